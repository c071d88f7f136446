// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 FlowCanvas 跨包共享的结构化错误类型。

types 是最底层的公共包，不依赖任何内部包。API 层把 workflow、
persistence、invoker 返回的错误映射为 *Error，再渲染为统一的响应信封。

# 核心类型

  - ErrorCode：错误码，分为请求类（INVALID_REQUEST、NOT_FOUND、
    UNAUTHORIZED、RATE_LIMITED）、工作流类（GRAPH_INVALID_EDGE、
    COMPILE_FAILED、STORE_ERROR、RUN_START_FAILED）与服务类
    （INTERNAL_ERROR、SERVICE_UNAVAILABLE）。
  - Error：错误码、消息、HTTP 状态、Retryable、Details 与 Cause，
    Status 在未显式设置时按错误码给出默认状态。

# 辅助函数

AsError / GetErrorCode / IsRetryable 沿 errors.As 链查找 *Error。
*/
package types
