package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// TargetAllocation is one SYMBOL:AMOUNT pair from the TARGETS env var. It is
// parsed and carried for the out-of-core wallet rebalancer; the epoch engine
// itself never reads it.
type TargetAllocation struct {
	Symbol string
	Target float64
}

type LiquidatorConfig struct {
	App              string
	RPCEndpoint      string
	SecretPath       string
	MarketsFilter    []string
	Targets          []TargetAllocation
	Throttle         time.Duration
	RebalancePadding float64
	DryRun           bool
	PriceStreamURL   string
	Log              LogConfig
}

var validApps = map[string]bool{
	"production": true,
	"devnet":     true,
	"beta":       true,
	"staging":    true,
}

// LoadLiquidatorConfig reads the liquidator's environment surface. dryRun is
// threaded in from the --dry-run CLI flag since it is not itself an
// environment variable.
func LoadLiquidatorConfig(dryRun bool) (LiquidatorConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return LiquidatorConfig{}, err
	}

	app := strings.ToLower(strings.TrimSpace(envOrDefault("APP", "production")))
	if !validApps[app] {
		return LiquidatorConfig{}, fmt.Errorf("unrecognized APP %q: must be production, devnet, beta, or staging", app)
	}

	rpcEndpoint := strings.TrimSpace(valueForKey("RPC_ENDPOINT"))
	if rpcEndpoint == "" {
		return LiquidatorConfig{}, errors.New("RPC_ENDPOINT must be set")
	}

	secretPath := strings.TrimSpace(valueForKey("SECRET_PATH"))
	if secretPath == "" {
		return LiquidatorConfig{}, errors.New("SECRET_PATH must be set")
	}
	secretPath, err := expandHomePath(secretPath)
	if err != nil {
		return LiquidatorConfig{}, fmt.Errorf("expand SECRET_PATH: %w", err)
	}

	marketsFilter := parseCSVEnv(envOrDefault("MARKETS", ""), nil)

	targets := parseTargets(envOrDefault("TARGETS", ""))

	throttleMs, err := envInt64("THROTTLE", 0)
	if err != nil {
		return LiquidatorConfig{}, err
	}
	if throttleMs < 0 {
		return LiquidatorConfig{}, fmt.Errorf("invalid THROTTLE: must be >= 0")
	}

	rebalancePadding, err := envFloat("REBALANCE_PADDING", 0.2)
	if err != nil {
		return LiquidatorConfig{}, err
	}

	return LiquidatorConfig{
		App:              app,
		RPCEndpoint:      rpcEndpoint,
		SecretPath:       secretPath,
		MarketsFilter:    marketsFilter,
		Targets:          targets,
		Throttle:         time.Duration(throttleMs) * time.Millisecond,
		RebalancePadding: rebalancePadding,
		DryRun:           dryRun,
		PriceStreamURL:   strings.TrimSpace(envOrDefault("ORACLE_STREAM_URL", "")),
		Log:              buildLogConfig("LIQUIDATOR", "liquidator"),
	}, nil
}

// parseTargets parses the "SYMBOL:AMOUNT SYMBOL:AMOUNT" TARGETS format.
// Malformed entries are skipped rather than rejected, matching the source
// rebalancer's filter_map behavior.
func parseTargets(raw string) []TargetAllocation {
	fields := strings.Fields(raw)
	out := make([]TargetAllocation, 0, len(fields))
	for _, field := range fields {
		parts := strings.Split(field, ":")
		if len(parts) != 2 {
			continue
		}
		target, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		out = append(out, TargetAllocation{Symbol: parts[0], Target: target})
	}
	return out
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}
