// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database 提供基于 GORM 的数据库连接与连接池管理，供 SQL 工作流
存储与迁移工具共用。

# 概述

Open 按驱动名（postgres、mysql、sqlite）选择 gorm 方言并建立连接，
随后由 PoolManager 统一配置连接池、定时探活并在关闭时释放连接。
sqlite 使用 glebarez/sqlite 纯 Go 驱动，单文件部署无需 cgo。

# 核心类型

  - Config：驱动、连接串与连接池配置。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、SQLDB()、
    Ping()、GetStats()、WithTransaction()、Close()。
  - PoolConfig：连接池参数与 Validate 校验。
*/
package database
