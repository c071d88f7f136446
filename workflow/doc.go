// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供可视化工作流图模型与编译器。

# 概述

workflow 包实现了编辑器侧的可变图模型（Graph）以及把自由绘制的图
校验并降级为可序列化工作流定义（CompiledWorkflow）的编译器。所有结构性
不变量（无自环、无悬空边、无环）都集中在 AddEdge 与 Compile 两处检查。

# 核心接口与类型

  - Graph：节点/边的可变模型，AddEdge 在插入前做可达性检查
  - EdgeError：SelfLoop / UnknownNode / WouldCycle
  - Compiler：按固定顺序校验并输出稳定拓扑序
  - CompileError：MissingName / EmptyGraph / DanglingEdge / CyclicGraph / UnknownTool
  - CompiledWorkflow：只读产物，JSON / YAML 导入导出
  - Resolver / Store / Invoker：外部协作者接口
  - Canvas：编辑器文档（含节点坐标）的导入导出

# 主要能力

  - 稳定拓扑排序：Kahn 算法，并列时按插入顺序
  - 类型判定：单链为 sequence，其余为 dag
  - 批量加载：LoadCanvas / GraphFromCompiled 绕过 AddEdge，由编译器重新校验
*/
package workflow
