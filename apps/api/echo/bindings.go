package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

var (
	orderingParam = "ordering"
	kindParam     = "kind"
)

// Ordering binds `?ordering=-created_at,title` style query params.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindKinds reads repeated and comma separated `?kind=` params. Unknown kinds are a validation error.
func bindKinds(ctx echo.Context) ([]notification.Kind, error) {
	var kinds []notification.Kind
	for _, val := range ctx.QueryParams()[kindParam] {
		for _, k := range strings.Split(val, ",") {
			kind := notification.Kind(core.CleanString(k, true /* lower */))
			if kind == "" {
				continue
			}
			if !kind.IsValid() {
				return nil, core.NewValidationError(nil, core.FieldError{Field: kindParam, Error: "unknown notification kind: " + string(kind)})
			}
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
