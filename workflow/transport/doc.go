// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package transport 负责把运行事件从执行端送到可视化端。

# 概述

每个 Source 在每次 Stream 调用时都从运行日志起点重放，因此断线重连后
只需重置 Reducer 并重新消费即可恢复状态。EventLog 为每次运行保存完整
历史，支持先重放、后跟随的订阅方式。

# 核心类型

  - Source / SourceFunc：事件来源抽象
  - SliceSource：内存重放
  - ReaderSource：JSON Lines 文件重放
  - WebSocketSource：基于 coder/websocket 的实时流
  - EventLog / Entry：按 offset 编号的运行日志
  - MemoryLog：进程内日志
  - RedisStreamLog：基于 Redis Stream 的跨进程日志
  - LogSource：把 EventLog 适配为 Source
  - Session：Source + Reducer + 投影，带限速重连
*/
package transport
