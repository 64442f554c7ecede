package hook

import "sort"

// Lifecycle hook names. These are dispatched internally by host business
// logic and are never resolvable through the public RPC surface; the
// gateway rejects them centrally before resolution.
const (
	AfterStartup         = "after_startup"
	BeforeStop           = "before_stop"
	AfterUserRegister    = "after_user_register"
	AfterUserLogin       = "after_user_login"
	BeforeLobbyCreate    = "before_lobby_create"
	AfterLobbyCreate     = "after_lobby_create"
	BeforeLobbyJoin      = "before_lobby_join"
	AfterLobbyJoin       = "after_lobby_join"
	BeforeGroupJoin      = "before_group_join"
	BeforeLobbyLeave     = "before_lobby_leave"
	AfterLobbyLeave      = "after_lobby_leave"
	BeforeLobbyUpdate    = "before_lobby_update"
	AfterLobbyUpdate     = "after_lobby_update"
	BeforeLobbyDelete    = "before_lobby_delete"
	AfterLobbyDelete     = "after_lobby_delete"
	BeforeUserKicked     = "before_user_kicked"
	AfterUserKicked      = "after_user_kicked"
	AfterLobbyHostChange = "after_lobby_host_change"
	OnCustomHook         = "on_custom_hook"
	BeforeKVGet          = "before_kv_get"
)

var reserved = map[string]bool{
	AfterStartup:         true,
	BeforeStop:           true,
	AfterUserRegister:    true,
	AfterUserLogin:       true,
	BeforeLobbyCreate:    true,
	AfterLobbyCreate:     true,
	BeforeLobbyJoin:      true,
	AfterLobbyJoin:       true,
	BeforeGroupJoin:      true,
	BeforeLobbyLeave:     true,
	AfterLobbyLeave:      true,
	BeforeLobbyUpdate:    true,
	AfterLobbyUpdate:     true,
	BeforeLobbyDelete:    true,
	AfterLobbyDelete:     true,
	BeforeUserKicked:     true,
	AfterUserKicked:      true,
	AfterLobbyHostChange: true,
	OnCustomHook:         true,
	BeforeKVGet:          true,
}

// IsReserved reports whether name is a lifecycle hook name.
func IsReserved(name string) bool {
	return reserved[name]
}

// ReservedNames returns all lifecycle hook names, sorted.
func ReservedNames() []string {
	names := make([]string, 0, len(reserved))
	for name := range reserved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
