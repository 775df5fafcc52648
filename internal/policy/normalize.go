package policy

import "sort"

// Normalize folds the legacy inputs into the canonical map-style document:
// prioritized entries extend the per-domain allow sets (or the blocked-command
// and denied-path lists), and the misspelled resurces block merges into
// resources. Returns a copy; the receiver is unchanged.
func (d Document) Normalize() Document {
	out := d

	if len(d.Entries) > 0 {
		// Stable sort so equal priorities keep declaration order.
		entries := make([]Entry, len(d.Entries))
		copy(entries, d.Entries)
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Priority > entries[j].Priority
		})

		for _, e := range entries {
			switch e.Domain {
			case DomainTools:
				out.Tools.Allowed = appendUnique(out.Tools.Allowed, e.Name)
			case DomainSkills:
				out.Skills.Allowed = appendUnique(out.Skills.Allowed, e.Name)
			case DomainMCPs:
				out.MCPs.Allowed = appendUnique(out.MCPs.Allowed, e.Name)
			case DomainCommands:
				out.ExtraBlockedCommands = appendUnique(out.ExtraBlockedCommands, e.Name)
			case DomainResources:
				out.Resources.DeniedPaths = appendUnique(out.Resources.DeniedPaths, e.Name)
			}
		}
		out.Entries = nil
	}

	if d.LegacyResources != nil {
		for _, p := range d.LegacyResources.DeniedPaths {
			out.Resources.DeniedPaths = appendUnique(out.Resources.DeniedPaths, p)
		}
		out.LegacyResources = nil
	}

	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
