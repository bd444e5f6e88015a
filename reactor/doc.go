// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded event loop core: an
// epoll/kqueue poller abstraction, the Channel registration unit, a timer
// subsystem with one-shot and repeating timers, idle-timeout buckets, a
// cross-thread task queue woken through a self-pipe, and a round-robin
// reactor pool for multi-threaded servers.
//
// Everything owned by a Reactor is mutated only on its own loop thread.
// Other threads interact exclusively through SafeCall, Exit and Wakeup.
package reactor
