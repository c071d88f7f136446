// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 FlowCanvas 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → FLOWCANVAS_* 环境变量 的顺序叠加，
// 覆盖 HTTP 服务、工作流存储、Redis、SQL 数据库、外部 runner、
// 事件传输、agent/tool 目录、日志与遥测。
package config
