package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func TestUTC(t *testing.T) {
	tests := []struct {
		name         string
		physicalType string
		want         string
	}{
		{
			name:         "offset stored",
			physicalType: "DATETIMEOFFSET(7)",
			want:         "CONVERT(DATETIMEOFFSET, [t].[c] AT TIME ZONE 'UTC')",
		},
		{
			name:         "local datetime",
			physicalType: "datetime2",
			want:         "CONVERT(DATETIMEOFFSET, TODATETIMEOFFSET([t].[c], DATEPART(TZOFFSET, SYSDATETIMEOFFSET())) AT TIME ZONE 'UTC')",
		},
		{
			name: "unknown type",
			want: "CONVERT(DATETIMEOFFSET, TODATETIMEOFFSET([t].[c], DATEPART(TZOFFSET, SYSDATETIMEOFFSET())) AT TIME ZONE 'UTC')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MSSQL.UTC(sqlb.Ident(MSSQL, "t", "c"), tt.physicalType)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
