// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"
)

// =============================================================================
// BANNERS
// =============================================================================

// Auto-dismiss intervals. Errors linger longer so they can be read.
const (
	SuccessBannerTTL = 3 * time.Second
	ErrorBannerTTL   = 5 * time.Second
)

// BannerKind distinguishes success from error banners.
type BannerKind string

const (
	BannerSuccess BannerKind = "success"
	BannerError   BannerKind = "error"
)

// Banner is a transient status notice. It never represents transcript
// state: an error banner appears alongside the optimistic message, it does
// not replace or remove it.
type Banner struct {
	Kind     BannerKind
	Text     string
	Deadline time.Time
}

// bannerBoard holds the currently visible banners. Success and error
// banners accumulate independently; each expires on its own deadline.
type bannerBoard struct {
	mu      sync.Mutex
	banners []Banner
	now     func() time.Time
}

func newBannerBoard() *bannerBoard {
	return &bannerBoard{now: time.Now}
}

// push adds a banner with the TTL for its kind.
func (b *bannerBoard) push(kind BannerKind, text string) {
	ttl := SuccessBannerTTL
	if kind == BannerError {
		ttl = ErrorBannerTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.banners = append(b.banners, Banner{
		Kind:     kind,
		Text:     text,
		Deadline: b.now().Add(ttl),
	})
}

// active returns the banners that have not yet expired, pruning the rest.
func (b *bannerBoard) active() []Banner {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kept := b.banners[:0]
	for _, banner := range b.banners {
		if banner.Deadline.After(now) {
			kept = append(kept, banner)
		}
	}
	b.banners = kept

	out := make([]Banner, len(kept))
	copy(out, kept)
	return out
}
