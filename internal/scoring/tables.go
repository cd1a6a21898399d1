package scoring

import (
	"maps"

	"github.com/sells-group/bankruptcy-monitor/internal/config"
	"github.com/sells-group/bankruptcy-monitor/internal/country"
)

// TablesFor returns the plugin's classification tables with the configured
// override for its country merged on top. Override entries add prefixes or
// replace existing ones; they never remove a prefix.
func TablesFor(p country.Plugin, overrides map[string]config.TableOverride) country.Tables {
	t := p.ClassificationTables().Clone()
	o, ok := overrides[p.Code()]
	if !ok {
		return t
	}
	maps.Copy(t.High, o.High)
	maps.Copy(t.Mid, o.Mid)
	maps.Copy(t.Low, o.Low)
	maps.Copy(t.Assets, o.Assets)
	return t
}
