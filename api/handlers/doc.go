// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 FlowCanvas HTTP API 的请求处理器实现。

# 概述

handlers 包实现编辑会话、工作流存储、运行事件接入与流式推送等端点。
所有 Handler 均遵循标准 net/http 接口，通过 Register 挂载到 Go 1.22
路由模式的 http.ServeMux，并通过 Swagger 注解生成 API 文档。

# 核心类型

  - GraphsHandler：编辑会话，节点、边、工具编辑，编译保存与布局
  - WorkflowsHandler：已编译工作流的列表、查询（JSON/YAML）、删除与启动运行
  - RunsHandler：事件接入、状态查询、原始事件流与画面帧流（WebSocket）
  - CatalogHandler：可选 Agent 与工具列表
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - RunIndex：运行 ID 到工作流 ID 的绑定
  - Response：统一 JSON 响应结构（success + data + error + timestamp）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteJSON
  - 领域错误映射：ToAPIError 把边错误、编译错误、存储错误映射为稳定错误码
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
  - 观测回调：入库、归约结果、会话打开关闭、启动运行结果，供指标层挂接
*/
package handlers
