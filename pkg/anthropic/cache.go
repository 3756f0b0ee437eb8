package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a 1-hour
// cache breakpoint. The AI matcher sends the same instructions for every
// record of a batch, so they are worth caching across calls.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "1h"},
		},
	}
}
