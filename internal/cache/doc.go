// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，支持键前缀、健康检查与
JSON 序列化。

# 概述

Manager 封装 go-redis 客户端，为工作流存储的读缓存提供统一接口。
既可以自行建立连接（NewManager），也可以复用进程内已有的客户端
（NewManagerWithClient），后者在 Close 时不会关闭客户端。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete 与 GetJSON/SetJSON。
  - Config：地址、密码、键前缀、默认 TTL、连接池与健康检查间隔。

# 错误语义

  - ErrCacheMiss / IsCacheMiss：未命中
  - ErrClosed：管理器已关闭
*/
package cache
