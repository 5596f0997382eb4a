package ai

// ModelInfo describes a model's limits and pricing. Prices are USD per million tokens.
type ModelInfo struct {
	MaxTokens           int     `json:"maxTokens,omitempty" yaml:"max_tokens"`
	ContextWindow       int     `json:"contextWindow,omitempty" yaml:"context_window"`
	SupportsImages      bool    `json:"supportsImages" yaml:"supports_images"`
	SupportsPromptCache bool    `json:"supportsPromptCache" yaml:"supports_prompt_cache"`
	InputPrice          float64 `json:"inputPrice,omitempty" yaml:"input_price"`
	OutputPrice         float64 `json:"outputPrice,omitempty" yaml:"output_price"`
	CacheWritesPrice    float64 `json:"cacheWritesPrice,omitempty" yaml:"cache_writes_price"`
	CacheReadsPrice     float64 `json:"cacheReadsPrice,omitempty" yaml:"cache_reads_price"`
	Description         string  `json:"description,omitempty" yaml:"description"`
}

// Cost returns the USD cost of the token counts carried by a usage chunk.
func (m ModelInfo) Cost(u Chunk) float64 {
	const perMillion = 1_000_000.0
	uncached := u.InputTokens - u.CacheReadTokens
	if uncached < 0 {
		uncached = 0
	}
	return float64(uncached)*m.InputPrice/perMillion +
		float64(u.CacheReadTokens)*m.CacheReadsPrice/perMillion +
		float64(u.OutputTokens)*m.OutputPrice/perMillion
}

const (
	ProviderClarifai   = "clarifai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// Clarifai's OpenAI-compatible endpoint addresses models by their community URL.
const ClarifaiDefaultModelID = "https://clarifai.com/qwen/qwenCoder/models/Qwen3-Coder-30B-A3B-Instruct"

var ClarifaiModels = map[string]ModelInfo{
	"https://clarifai.com/qwen/qwenCoder/models/Qwen3-Coder-30B-A3B-Instruct": {
		MaxTokens:     16_384,
		ContextWindow: 262_144,
		InputPrice:    0.36,
		OutputPrice:   1.30,
		Description:   "Qwen3 Coder 30B mixture-of-experts model tuned for agentic coding and tool use.",
	},
	"https://clarifai.com/deepseek-ai/deepseek-chat/models/DeepSeek-R1-0528-Qwen3-8B": {
		MaxTokens:     32_768,
		ContextWindow: 131_072,
		InputPrice:    0.50,
		OutputPrice:   2.18,
		Description:   "DeepSeek R1 reasoning distilled into Qwen3 8B. Streams its chain of thought as reasoning content.",
	},
	"https://clarifai.com/deepseek-ai/deepseek-chat/models/DeepSeek-V3_1": {
		MaxTokens:     16_384,
		ContextWindow: 131_072,
		InputPrice:    0.56,
		OutputPrice:   1.68,
		Description:   "DeepSeek V3.1 hybrid chat model.",
	},
	"https://clarifai.com/openai/chat-completion/models/gpt-oss-120b": {
		MaxTokens:     16_000,
		ContextWindow: 131_072,
		InputPrice:    0.09,
		OutputPrice:   0.36,
		Description:   "OpenAI open-weight 120B reasoning model.",
	},
	"https://clarifai.com/openai/chat-completion/models/gpt-oss-20b": {
		MaxTokens:     16_000,
		ContextWindow: 131_072,
		InputPrice:    0.045,
		OutputPrice:   0.18,
		Description:   "OpenAI open-weight 20B reasoning model for lower latency.",
	},
	"https://clarifai.com/moonshotai/kimi/models/Kimi-K2-Instruct": {
		MaxTokens:     16_384,
		ContextWindow: 131_072,
		InputPrice:    1.50,
		OutputPrice:   1.50,
		Description:   "Moonshot Kimi K2 instruct, a 1T parameter MoE model strong at agentic tasks.",
	},
	"https://clarifai.com/openbmb/miniCPM/models/MiniCPM4-8B": {
		MaxTokens:     8_192,
		ContextWindow: 32_768,
		InputPrice:    0.18,
		OutputPrice:   0.18,
		Description:   "MiniCPM4 8B, an efficient small model.",
	},
	"https://clarifai.com/xai/chat-completion/models/grok-3": {
		MaxTokens:      8_192,
		ContextWindow:  131_072,
		SupportsImages: true,
		InputPrice:     3.00,
		OutputPrice:    15.00,
		Description:    "xAI Grok 3.",
	},
}

const OpenRouterDefaultModelID = "openrouter/auto"

var OpenRouterModels = map[string]ModelInfo{
	"openrouter/auto": {
		MaxTokens:      8_192,
		ContextWindow:  200_000,
		SupportsImages: true,
		Description:    "OpenRouter picks a model per request.",
	},
	"deepseek/deepseek-r1": {
		MaxTokens:     32_768,
		ContextWindow: 163_840,
		InputPrice:    0.40,
		OutputPrice:   2.00,
		Description:   "DeepSeek R1 via OpenRouter.",
	},
}

const OllamaDefaultModelID = "llama3:latest"

var OllamaModels = map[string]ModelInfo{
	"llama3:latest": {
		MaxTokens:     4_096,
		ContextWindow: 8_192,
		Description:   "Meta Llama 3 8B served locally.",
	},
}

func cloneModels(in map[string]ModelInfo) map[string]ModelInfo {
	out := make(map[string]ModelInfo, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
