package anthropic

// CachedSystem builds a single system block with a cache breakpoint. Use it
// for a system prompt that is identical across many requests so later calls
// read the prefix from the prompt cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
