package onedrive

import (
	"log/slog"
	"net/url"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// NormalizeDelta applies delta-specific quirk handling to a batch of items.
// Fetch returns pages verbatim; change processors run this pipeline before
// applying a batch. The pipeline runs in a fixed order:
// 1. URL-decode and NFC-normalize item names
// 2. Filter out OneNote packages (not representable as plain files)
// 3. Clear bogus hashes on deleted items
// 4. Deduplicate items that appear multiple times (keep last occurrence)
// 5. Reorder so deletions at a parent are processed before creations
func NormalizeDelta(items []Item, logger *slog.Logger) []Item {
	items = normalizeNames(items, logger)
	items = filterPackages(items, logger)
	items = clearDeletedHashes(items, logger)
	items = deduplicateItems(items, logger)
	items = reorderDeletions(items, logger)

	return items
}

// normalizeNames URL-decodes item names and folds them to NFC. The service
// sometimes returns percent-encoded names in delta responses, and names
// entered on macOS clients arrive decomposed (NFD).
func normalizeNames(items []Item, logger *slog.Logger) []Item {
	changed := 0

	for i := range items {
		name := items[i].Name

		unescaped, err := url.PathUnescape(name)
		if err != nil {
			// Malformed percent-encoding from the API; keep the original.
			logger.Debug("failed to URL-decode item name, keeping original",
				slog.String("item_id", items[i].ID),
				slog.String("name", name),
				slog.String("error", err.Error()),
			)

			unescaped = name
		}

		normalized := norm.NFC.String(unescaped)
		if normalized != items[i].Name {
			items[i].Name = normalized
			changed++
		}
	}

	if changed > 0 {
		logger.Info("normalized item names in delta batch",
			slog.Int("changed_count", changed),
		)
	}

	return items
}

// filterPackages removes items where IsPackage is true. OneNote packages are
// compound objects that cannot be meaningfully handled as files.
func filterPackages(items []Item, logger *slog.Logger) []Item {
	result := make([]Item, 0, len(items))

	for i := range items {
		if items[i].IsPackage {
			logger.Debug("filtering out package item",
				slog.String("item_id", items[i].ID),
				slog.String("name", items[i].Name),
			)

			continue
		}

		result = append(result, items[i])
	}

	if filtered := len(items) - len(result); filtered > 0 {
		logger.Info("filtered package items from delta batch",
			slog.Int("filtered_count", filtered),
			slog.Int("remaining_count", len(result)),
		)
	}

	return result
}

// clearDeletedHashes clears hash fields on deleted items. The service
// sometimes reports stale hashes on deletions, which would trigger spurious
// mismatch handling downstream.
func clearDeletedHashes(items []Item, logger *slog.Logger) []Item {
	for i := range items {
		if !items[i].IsDeleted {
			continue
		}

		if items[i].SHA1Hash != "" || items[i].CRC32Hash != "" {
			logger.Debug("clearing bogus hashes on deleted item",
				slog.String("item_id", items[i].ID),
				slog.String("name", items[i].Name),
			)

			items[i].SHA1Hash = ""
			items[i].CRC32Hash = ""
		}
	}

	return items
}

// deduplicateItems removes duplicate item IDs, keeping only the last
// occurrence. The service can report the same item multiple times in one
// batch when it changes between pages; only the final state matters.
func deduplicateItems(items []Item, logger *slog.Logger) []Item {
	if len(items) == 0 {
		return items
	}

	// Reverse, keep first occurrence, reverse back — the survivor of each
	// ID is then its last occurrence in the original order.
	reversed := make([]Item, len(items))
	copy(reversed, items)
	slices.Reverse(reversed)

	seen := make(map[string]bool, len(reversed))
	kept := make([]Item, 0, len(reversed))

	for i := range reversed {
		if seen[reversed[i].ID] {
			logger.Debug("deduplicating item, keeping later occurrence",
				slog.String("item_id", reversed[i].ID),
				slog.String("name", reversed[i].Name),
			)

			continue
		}

		seen[reversed[i].ID] = true
		kept = append(kept, reversed[i])
	}

	slices.Reverse(kept)

	if dupes := len(items) - len(kept); dupes > 0 {
		logger.Info("deduplicated items in delta batch",
			slog.Int("duplicate_count", dupes),
			slog.Int("remaining_count", len(kept)),
		)
	}

	return kept
}

// reorderDeletions sorts items so deletions come before non-deletions at
// the same parent. This prevents "already exists" conflicts when a batch
// carries a delete-then-recreate under one folder. Stable sort preserves
// relative order everywhere else.
func reorderDeletions(items []Item, logger *slog.Logger) []Item {
	if len(items) == 0 {
		return items
	}

	reordered := false

	slices.SortStableFunc(items, func(a, b Item) int {
		if a.ParentID != b.ParentID {
			return 0
		}

		switch {
		case a.IsDeleted && !b.IsDeleted:
			reordered = true
			return -1
		case !a.IsDeleted && b.IsDeleted:
			reordered = true
			return 1
		default:
			return 0
		}
	})

	if reordered {
		logger.Debug("reordered deletions before creations in delta batch")
	}

	return items
}
