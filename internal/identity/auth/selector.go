// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import "log/slog"

// Select picks the adapter that backs the auth capability for the rest of
// the process. Evaluated exactly once at startup; there is no runtime
// switching, which is what lets both adapters keep per-process state (the
// single two-factor slot, the session copy) without coordination.
func Select(useRemote bool, local *LocalAdapter, remote *RemoteAdapter, logger *slog.Logger) Authenticator {
	if useRemote {
		logger.Info("auth_adapter_selected", "adapter", "remote")
		return remote
	}
	logger.Info("auth_adapter_selected", "adapter", "local")
	return local
}
