// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package execution 定义运行事件协议以及把事件折叠为运行状态的 Reducer。

# 概述

事件可能乱序、重复或来自旧版协议。Transition 是纯函数：对任意状态与
任意事件都有定义，重复投递不会改变结果，未知或过期事件只计入统计并
记录日志，不会报错。

# 核心类型

  - Event / EventType：规范事件，兼容旧版 execution_started 等别名
  - RunState / NodeState：运行与节点状态，EdgeStatusFor 派生边样式
  - Transition：纯状态转移函数
  - Reducer：并发安全的状态持有者，带处置统计
*/
package execution
