// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 FlowCanvas 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试与端到端测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON / WriteFiles

# 子包

  - testutil/fixtures: 测试数据工厂，提供 research -> write 两节点
    画布、编译产物、事件序列与 agent/tool 目录样例
  - testutil/mocks: MockInvoker 与 MockResolver，支持 Builder 模式、
    调用记录与错误注入

# 使用示例

	ctx := testutil.TestContext(t)
	inv := mocks.NewMockInvoker().WithError(errors.New("no capacity"))
	_, err := inv.StartRun(ctx, fixtures.ResearchWorkflow(t), nil)
*/
package testutil
