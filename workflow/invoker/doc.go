// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package invoker 实现 workflow.Invoker，把编译好的工作流交给外部执行端。

# 概述

HTTPInvoker 以 JSON POST 把工作流、输入和事件回传地址发送给 runner，
runner 之后把执行事件推送到 /api/v1/runs/{run_id}/events。
LoopbackInvoker 不联系任何 runner，只分配 run id 与流地址，供未配置
runner 时通过事件接口手工回放使用。
*/
package invoker
