package sda

import (
	"strings"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
)

// Columns lists the result columns of a component attribute query, in order.
var Columns = []string{
	"mukey", "cokey", "comppct_r", "ksat_r", "texdesc", "claytotal_r", "silttotal_r", "sandtotal_r",
}

// componentQuery selects the surface horizon (hzdept_r = 0) of every
// component of the given mapunits, with the representative texture group.
// Components without a surface horizon still appear with null properties.
const componentQuery = `SELECT c.mukey, c.cokey, c.comppct_r, ch.ksat_r, tg.texdesc, ch.claytotal_r, ch.silttotal_r, ch.sandtotal_r
FROM component c
LEFT JOIN chorizon ch ON ch.cokey = c.cokey AND ch.hzdept_r = 0
LEFT JOIN chtexturegrp tg ON tg.chkey = ch.chkey AND tg.rvindicator = 'Yes'
WHERE c.mukey IN (%s)
ORDER BY c.mukey, c.cokey`

// ComponentQuery renders the query for one batch of keys as a SQL literal list.
func ComponentQuery(keys []domain.MapunitKey) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + strings.ReplaceAll(string(k), "'", "''") + "'"
	}
	return strings.Replace(componentQuery, "%s", strings.Join(quoted, ","), 1)
}
