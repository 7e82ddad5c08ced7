package compiler

import (
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
)

// dataType is the formula type of a physical column.
func dataType(c *core.Column) formula.DataType {
	switch c.UIType {
	case core.UINumber, core.UIDecimal, core.UICurrency, core.UIPercent,
		core.UIDuration, core.UIRating, core.UIYear:
		return formula.Numeric
	case core.UICheckbox:
		return formula.Boolean
	case core.UIDate, core.UIDateTime, core.UICreatedTime, core.UILastModifiedTime:
		return formula.Date
	case core.UISingleLineText, core.UILongText, core.UIEmail, core.UIURL,
		core.UIPhoneNumber, core.UISingleSelect, core.UIMultiSelect,
		core.UIJSON, core.UIAttachment, core.UITime,
		core.UIUser, core.UICreatedBy, core.UILastModifiedBy:
		return formula.String
	default:
		// ids and foreign keys may be integers or text
		return formula.Unknown
	}
}
