// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、图编译、
执行事件、工作流存储、缓存与数据库连接。

# 概述

Collector 通过 promauto 注册全部指标，默认注册到全局 Registry，
测试可用 NewCollectorWithRegistry 传入独立 Registry。各组件不直接
依赖本包，而是由 cmd/flowcanvas 把 Record* 方法包装成组件的观察者
回调（workflow.CompileObserver、execution.OutcomeObserver、
persistence.OpObserver）。

# 指标

  - HTTP：请求总数（状态码归类为 2xx/3xx/4xx/5xx）、耗时、响应体大小。
  - 编译：按 outcome 统计次数与耗时，outcome 为 ok 或编译错误种类。
  - 执行事件：按 type/disposition/reason 统计 Reducer 结果；
    事件日志写入数；活跃可视化会话数；运行启动结果。
  - 存储：按 backend/operation 统计耗时与失败次数。
  - 缓存：命中与未命中。
  - 数据库：活跃/空闲连接数。
*/
package metrics
