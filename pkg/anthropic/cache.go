package anthropic

// BuildCachedSystemBlocks constructs a system prompt block with a cache
// breakpoint. Classification sends many batches with the same system prompt
// inside one scan, so the 5 minute TTL covers a whole scan.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
