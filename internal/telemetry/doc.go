// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为 FlowCanvas 提供
// TracerProvider 与 MeterProvider。禁用时返回 noop 实现，不连接外部服务。
// 图编译（workflow.compile）与 HTTP 请求的 span 都经由这里安装的全局 provider 导出。
package telemetry
