// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
配置了证书与私钥时通过 tlsutil.ServerConfig 以 TLS 监听。

# 核心类型

  - Manager：Start 非阻塞启动；Run 阻塞直到 ctx 取消或服务异常，
    然后在 ShutdownTimeout 内优雅关闭；Errors 暴露异步错误。
  - Config：监听地址、读写/空闲超时、请求头上限、关闭超时与 TLS 文件。
  - RunAll：用 errgroup 同时运行 API 与 metrics 等多个服务器，
    任一失败时取消其余实例。
*/
package server
