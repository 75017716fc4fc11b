package auth

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MethodKey identifies one RPC method for policy lookup: "InterfaceName.MethodName".
type MethodKey string

func Key(interfaceName, methodName string) MethodKey {
	return MethodKey(interfaceName + "." + methodName)
}

// PolicyTable is the live (interfaceId, methodId) → MethodPolicy map (§4.7).
// It is loaded from a YAML/TOML config file via viper and hot-reloaded on
// change through viper's fsnotify-backed file watcher, so an operator can
// tighten or loosen a method's gate without a restart.
type PolicyTable struct {
	mu      sync.RWMutex
	entries map[MethodKey]MethodPolicy
	v       *viper.Viper
	log     *zap.Logger
}

// defaultPolicy fails closed: any method the config omits is ServerOnly,
// not AllowAnonymous.
var defaultPolicy = MethodPolicy{Gate: GateServerOnly}

// NewPolicyTable loads method policy from configPath (a YAML file mapping
// "Interface.Method" to one of "AllowAnonymous"/"ClientAccessible"/
// "ServerOnly"/"RequireRole:<Role>") and watches it for changes.
func NewPolicyTable(configPath string, log *zap.Logger) (*PolicyTable, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("auth: failed to read policy config %q: %w", configPath, err)
	}

	pt := &PolicyTable{
		entries: make(map[MethodKey]MethodPolicy),
		v:       v,
		log:     log.Named("auth.policy"),
	}
	if err := pt.reload(); err != nil {
		return nil, err
	}
	pt.watch()
	return pt, nil
}

// watch wires viper's fsnotify-backed change callback so edits to the
// policy file take effect without a process restart.
func (pt *PolicyTable) watch() {
	pt.v.OnConfigChange(func(e fsnotify.Event) {
		if err := pt.reload(); err != nil {
			pt.log.Error("failed to reload policy config after change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		pt.log.Info("policy config reloaded", zap.String("file", e.Name))
	})
	pt.v.WatchConfig()
}

func (pt *PolicyTable) reload() error {
	raw := pt.v.GetStringMapString("methods")
	parsed := make(map[MethodKey]MethodPolicy, len(raw))
	for key, val := range raw {
		policy, err := parsePolicyString(val)
		if err != nil {
			return fmt.Errorf("auth: policy entry %q: %w", key, err)
		}
		parsed[MethodKey(key)] = policy
	}

	pt.mu.Lock()
	pt.entries = parsed
	pt.mu.Unlock()
	return nil
}

func parsePolicyString(val string) (MethodPolicy, error) {
	switch val {
	case "AllowAnonymous":
		return MethodPolicy{Gate: GateAllowAnonymous}, nil
	case "ClientAccessible":
		return MethodPolicy{Gate: GateClientAccessible}, nil
	case "ServerOnly":
		return MethodPolicy{Gate: GateServerOnly}, nil
	}
	const prefix = "RequireRole:"
	if len(val) > len(prefix) && val[:len(prefix)] == prefix {
		role, ok := ParseRole(val[len(prefix):])
		if !ok {
			return MethodPolicy{}, fmt.Errorf("unknown role in %q", val)
		}
		return MethodPolicy{Gate: GateRequireRole, RequiredRole: role}, nil
	}
	return MethodPolicy{}, fmt.Errorf("unrecognized policy value %q", val)
}

// Lookup returns the policy for a method, falling back to defaultPolicy
// (ServerOnly — fail closed) if the config has no entry for it.
func (pt *PolicyTable) Lookup(key MethodKey) MethodPolicy {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if p, ok := pt.entries[key]; ok {
		return p
	}
	return defaultPolicy
}

// Authorize is the single entry point the session/dispatch layer calls
// before decoding a Request's arguments (§4.7 "runs before argument
// decoding when possible").
func (pt *PolicyTable) Authorize(key MethodKey, callerRole Role) bool {
	return pt.Lookup(key).Allows(callerRole)
}
