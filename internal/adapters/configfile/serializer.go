package configfile

import (
	"strings"

	"github.com/bnema/deployctl/internal/domain"
)

// missingValue is written for keys the client did not supply. The packer
// scripts treat it as a literal string.
const missingValue = "undefined"

// Render produces the config file text for cfg. Sections are separated by a
// blank line and every assignment is double quoted without escaping.
func (l Layout) Render(cfg domain.Configuration) string {
	var b strings.Builder

	for i, section := range l.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("##--")
		b.WriteString(section.Title)
		b.WriteString("--##\n")

		for j, group := range section.Groups {
			if j > 0 {
				b.WriteString("\n")
			}
			if group.Comment != "" {
				b.WriteString("# ")
				b.WriteString(group.Comment)
				b.WriteString("\n")
			}
			for _, entry := range group.Entries {
				if entry.Export {
					b.WriteString("export ")
				}
				b.WriteString(entry.Key)
				b.WriteString(`="`)
				b.WriteString(resolve(entry, cfg))
				b.WriteString("\"\n")
			}
		}
	}

	return b.String()
}

func resolve(entry layoutEntry, cfg domain.Configuration) string {
	value, ok := cfg.Lookup(entry.sourceKey())
	if entry.Default != nil && value == "" {
		return *entry.Default
	}
	if !ok {
		return missingValue
	}
	return value
}
