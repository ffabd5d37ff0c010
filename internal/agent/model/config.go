package model

// ================ Config ================
type ConversationConfig struct {
	TTL     string `envconfig:"CONVERSATION_TTL" default:"24h"`
	History struct {
		// CompactionThreshold is the history length above which the
		// summarizer folds older messages into the running summary.
		CompactionThreshold int `envconfig:"CONVERSATION_COMPACTION_THRESHOLD" default:"4"`
		// KeepRecent messages survive compaction verbatim.
		KeepRecent int `envconfig:"CONVERSATION_KEEP_RECENT" default:"2"`
	}
	Search struct {
		// MaxResults caps the result set stored in state.
		MaxResults int `envconfig:"CONVERSATION_SEARCH_MAX_RESULTS" default:"5"`
		// MaxShown caps how many vehicles the reply enumerates.
		MaxShown int `envconfig:"CONVERSATION_SEARCH_MAX_SHOWN" default:"3"`
	}
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0"`
}

type ExtractionModelConfig struct {
	Model       string  `envconfig:"EXTRACTION_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"EXTRACTION_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"EXTRACTION_TEMPERATURE" default:"0"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

type PromptConfig struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Drivana"`
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"used-car marketplace"`
}

type FinancingConfig struct {
	// AnnualRate is the fixed yearly interest rate applied by the
	// amortization calculator.
	AnnualRate float64 `envconfig:"FINANCING_ANNUAL_RATE" default:"0.10"`
}

type CatalogConfig struct {
	// Driver and DSN feed database/sql directly.
	Driver string `envconfig:"CATALOG_DB_DRIVER" default:"sqlite3"`
	DSN    string `envconfig:"CATALOG_DB_DSN" default:"file:catalog.db?cache=shared"`
	// MaxOpenConns bounds the shared connection pool used across
	// conversations.
	MaxOpenConns int `envconfig:"CATALOG_DB_MAX_OPEN_CONNS" default:"10"`
	QueryTimeout int `envconfig:"CATALOG_DB_QUERY_TIMEOUT_SECONDS" default:"5"`
}

type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"SERVER_PORT" default:"8080"`
}
