// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level pacebot configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Channel ChannelConfig `json:"channel" yaml:"channel" envPrefix:"CHANNEL_"`
	Agent   AgentConfig   `json:"agent"   yaml:"agent"   envPrefix:"AGENT_"`
	Chat    ChatConfig    `json:"chat"    yaml:"chat"    envPrefix:"CHAT_"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime" envPrefix:"RUNTIME_"`
	Redis   RedisConfig   `json:"redis"   yaml:"redis"   envPrefix:"REDIS_"`
}

// ChannelConfig holds per-channel settings.
type ChannelConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp" envPrefix:"WHATSAPP_"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string   `json:"token"               yaml:"token"               env:"TOKEN"`
	AllowFrom []string `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty" env:"ALLOW_FROM"`
}

// WhatsAppConfig holds settings for the WhatsApp bridge connection.
type WhatsAppConfig struct {
	BridgeURL   string   `json:"bridgeUrl,omitempty"   yaml:"bridgeUrl,omitempty"   env:"BRIDGE_URL"`
	BridgeToken string   `json:"bridgeToken,omitempty" yaml:"bridgeToken,omitempty" env:"BRIDGE_TOKEN"`
	AllowFrom   []string `json:"allowFrom,omitempty"   yaml:"allowFrom,omitempty"   env:"ALLOW_FROM"`
}

// AgentConfig holds LLM backend settings.
type AgentConfig struct {
	Provider    string  `json:"provider,omitempty"    yaml:"provider,omitempty"    env:"PROVIDER"`
	APIKey      string  `json:"apiKey,omitempty"      yaml:"apiKey,omitempty"      env:"API_KEY"`
	APIBase     string  `json:"apiBase,omitempty"     yaml:"apiBase,omitempty"     env:"API_BASE"`
	MaxTokens   int     `json:"maxTokens,omitempty"   yaml:"maxTokens,omitempty"   env:"MAX_TOKENS"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" env:"TEMPERATURE"`
}

// ChatConfig is the conversation behaviour the coordinator runs with.
// Durations are float seconds.
type ChatConfig struct {
	Model         string `json:"model"                   yaml:"model"                   env:"MODEL"`
	SystemMessage string `json:"systemMessage,omitempty" yaml:"systemMessage,omitempty" env:"SYSTEM_MESSAGE"`

	SplitterMode             string `json:"splitterMode"             yaml:"splitterMode"             env:"SPLITTER_MODE"`
	SplitterMinMessageLength int    `json:"splitterMinMessageLength" yaml:"splitterMinMessageLength" env:"SPLITTER_MIN_MESSAGE_LENGTH"`

	DelayMode               string  `json:"delayMode"               yaml:"delayMode"               env:"DELAY_MODE"`
	DelayBeforeFirstMessage float64 `json:"delayBeforeFirstMessage" yaml:"delayBeforeFirstMessage" env:"DELAY_BEFORE_FIRST_MESSAGE"`
	DelaySimple             float64 `json:"delaySimple"             yaml:"delaySimple"             env:"DELAY_SIMPLE"`
	DelayRandomMin          float64 `json:"delayRandomMin"          yaml:"delayRandomMin"          env:"DELAY_RANDOM_MIN"`
	DelayRandomMax          float64 `json:"delayRandomMax"          yaml:"delayRandomMax"          env:"DELAY_RANDOM_MAX"`

	ReplyMode           string `json:"replyMode"           yaml:"replyMode"           env:"REPLY_MODE"`
	AutoSwitchToReply   bool   `json:"autoSwitchToReply"   yaml:"autoSwitchToReply"   env:"AUTO_SWITCH_TO_REPLY"`
	ConvertToMarkdown   bool   `json:"convertToMarkdown"   yaml:"convertToMarkdown"   env:"CONVERT_TO_MARKDOWN"`
	DisplayTypingStatus bool   `json:"displayTypingStatus" yaml:"displayTypingStatus" env:"DISPLAY_TYPING_STATUS"`

	DebounceWindow     float64 `json:"debounceWindow"     yaml:"debounceWindow"     env:"DEBOUNCE_WINDOW"`
	GenerationTimeout  float64 `json:"generationTimeout"  yaml:"generationTimeout"  env:"GENERATION_TIMEOUT"`
	InterruptionPolicy string  `json:"interruptionPolicy" yaml:"interruptionPolicy" env:"INTERRUPTION_POLICY"`

	// FailureNotice is sent to the user when a generation fails. Empty disables it.
	FailureNotice string `json:"failureNotice,omitempty" yaml:"failureNotice,omitempty" env:"FAILURE_NOTICE"`
}

// RuntimeConfig tunes the coordinator's housekeeping jobs. Durations are float seconds.
type RuntimeConfig struct {
	SweepInterval    float64 `json:"sweepInterval"    yaml:"sweepInterval"    env:"SWEEP_INTERVAL"`
	LivenessInterval float64 `json:"livenessInterval" yaml:"livenessInterval" env:"LIVENESS_INTERVAL"`
	MisfireGrace     float64 `json:"misfireGrace"     yaml:"misfireGrace"     env:"MISFIRE_GRACE"`
	IdleTTL          float64 `json:"idleTtl"          yaml:"idleTtl"          env:"IDLE_TTL"`
	MaxUsers         int     `json:"maxUsers"         yaml:"maxUsers"         env:"MAX_USERS"`
}

// RedisConfig holds the settings store connection. Empty URL keeps settings in memory.
type RedisConfig struct {
	URL      string `json:"url,omitempty"      yaml:"url,omitempty"      env:"URL"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" env:"PASSWORD"`
	DB       int    `json:"db,omitempty"       yaml:"db,omitempty"       env:"DB"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Chat: ChatConfig{
			Model:                    DefaultModel,
			SplitterMode:             "simple_improved",
			SplitterMinMessageLength: 200,
			DelayMode:                "random",
			DelayBeforeFirstMessage:  0,
			DelaySimple:              5,
			DelayRandomMin:           0,
			DelayRandomMax:           10,
			ReplyMode:                "answer",
			AutoSwitchToReply:        true,
			ConvertToMarkdown:        true,
			DisplayTypingStatus:      true,
			DebounceWindow:           1,
			GenerationTimeout:        120,
			InterruptionPolicy:       "continue",
		},
		Runtime: RuntimeConfig{
			SweepInterval:    1,
			LivenessInterval: 60,
			MisfireGrace:     60,
			IdleTTL:          1800,
			MaxUsers:         10000,
		},
	}
}
