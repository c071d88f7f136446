// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package catalog 提供 agent 与 tool 的登记表，实现 workflow.Resolver。

# 概述

编译器通过 Resolver 校验节点上的 agent_ref 与工具引用，投影层用它为
节点生成可读标签。Registry 可以在代码中直接登记，也可以从配置目录下的
agents/*.yaml 与 tools/*.yaml 批量加载。

# 核心类型

  - Registry：线程安全的引用登记表
  - AgentDef：agent 定义文件格式
  - ToolDef：tool 定义文件格式
  - Watcher：轮询目录变更并整体重载 Registry
*/
package catalog
