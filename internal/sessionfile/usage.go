// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import "encoding/json"

// usageFields is the permissive decode target for an assistant message's
// `usage` block. Upstream agents use inconsistent field names for the same
// semantic value; every known alias is listed here, in one place, rather
// than scattered across callers.
type usageFields struct {
	InputTokens   *int64 `json:"input_tokens,omitempty"`
	PromptTokens  *int64 `json:"prompt_tokens,omitempty"`
	PromptTokens2 *int64 `json:"promptTokens,omitempty"`
	InputTokens2  *int64 `json:"inputTokens,omitempty"`

	OutputTokens  *int64 `json:"output_tokens,omitempty"`
	OutputTokens2 *int64 `json:"outputTokens,omitempty"`
	Completion    *int64 `json:"completion_tokens,omitempty"`

	Total      *int64 `json:"total,omitempty"`
	TotalAlt1  *int64 `json:"totalTokens,omitempty"`
	TotalAlt2  *int64 `json:"total_tokens,omitempty"`
	TotalAlt3  *int64 `json:"tokens,omitempty"`

	CacheRead      *int64 `json:"cacheRead,omitempty"`
	CacheReadAlt1  *int64 `json:"cache_read,omitempty"`
	CacheReadAlt2  *int64 `json:"cache_read_input_tokens,omitempty"`
	CacheReadAlt3  *int64 `json:"cacheReadInputTokens,omitempty"`

	CacheWrite     *int64 `json:"cacheWrite,omitempty"`
	CacheWriteAlt1 *int64 `json:"cache_creation,omitempty"`
	CacheWriteAlt2 *int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheWriteAlt3 *int64 `json:"cacheCreationInputTokens,omitempty"`

	Cost json.RawMessage `json:"cost,omitempty"`
}

func first(vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// costBreakdown is the permissive decode target for a `cost` value that may
// be a bare number or a per-category object.
type costBreakdown struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
}

// normalizeUsage parses a raw `usage` JSON value using the alias table and
// accumulates its normalized fields into acc.
func normalizeUsage(raw json.RawMessage, acc *Stats) {
	if len(raw) == 0 {
		return
	}
	var u usageFields
	if err := json.Unmarshal(raw, &u); err != nil {
		return
	}

	input := first(u.InputTokens, u.InputTokens2, u.PromptTokens, u.PromptTokens2)
	output := first(u.OutputTokens, u.OutputTokens2, u.Completion)
	cacheRead := first(u.CacheRead, u.CacheReadAlt1, u.CacheReadAlt2, u.CacheReadAlt3)
	cacheWrite := first(u.CacheWrite, u.CacheWriteAlt1, u.CacheWriteAlt2, u.CacheWriteAlt3)
	total := first(u.Total, u.TotalAlt1, u.TotalAlt2, u.TotalAlt3)

	acc.InputTokens += input
	acc.OutputTokens += output
	acc.CacheRead += cacheRead
	acc.CacheWrite += cacheWrite

	// Tie-break: prefer an explicit total when present; otherwise sum parts.
	if total > 0 {
		acc.TotalTokens += total
	} else {
		acc.TotalTokens += input + output + cacheRead + cacheWrite
	}

	if len(u.Cost) == 0 {
		return
	}
	var flatCost float64
	if err := json.Unmarshal(u.Cost, &flatCost); err == nil {
		acc.CostUSD += flatCost
		return
	}
	var cb costBreakdown
	if err := json.Unmarshal(u.Cost, &cb); err == nil {
		acc.CostUSD += cb.Input + cb.Output + cb.CacheRead + cb.CacheWrite
	}
}
