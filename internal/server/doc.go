// Copyright (c) GroundRAG Authors.
// Use of this source code is governed by the project license.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与基于 context 的停机等待。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 生命周期方法。
  - Config：监听地址、读写与空闲超时、最大请求头、关闭超时、
    可选 TLS 证书（使用 tlsutil 的加固配置）。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务；":0" 时
    BoundAddr 返回实际端口。
  - 优雅关闭：Shutdown 在超时内排空请求并等待服务 goroutine 退出。
  - 停机等待：Wait(ctx) 在 ctx 取消（signal.NotifyContext）或服务
    异常退出时关闭服务器。
*/
package server
