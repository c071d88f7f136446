// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 FlowCanvas 服务端与命令行入口。

# 概述

cmd/flowcanvas 把工作流编辑、编译、存储与运行可视化组装成一个进程，
并附带离线的编译与回放工具。

# 子命令

  - serve    启动 HTTP API（编辑会话、工作流目录、运行事件接入与推送）
  - migrate  管理 workflows 表的数据库迁移
  - compile  把画布 JSON 编译为工作流 YAML/JSON
  - replay   从事件文件或 WebSocket 回放一次运行并输出最终画面
  - version  显示版本信息
  - health   探测运行中服务的健康状态

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → MetricsMiddleware →
RequestLogger → CORS → 鉴权（JWT 或 API Key）→ RateLimiter。
限流按鉴权主体计数，匿名请求按来源 IP 计数。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
