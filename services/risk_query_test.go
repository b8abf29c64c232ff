package services

import (
	"strings"
	"testing"
	"time"

	"github.com/mediashield/go-secure-media-server/global"
	"github.com/stretchr/testify/assert"
)

func testRiskConfig() global.RiskConfig {
	return global.RiskConfig{
		Engine:                 "athena",
		DbName:                 "cf_logs",
		TableName:              "partitioned_logs",
		UriColumnName:          "uri",
		RefererColumnName:      "referrer",
		UaColumnName:           "useragent",
		RequestIpColumn:        "requestip",
		StatusColumnName:       "status",
		ResponseBytesColumName: "bytes",
		DateColumnName:         "date",
		TimeColumnName:         "time",
		IpRate:                 3,
		IpPenaltyEnabled:       true,
		IpPenalty:              1,
		RefererPenaltyEnabled:  true,
		RefererPenalty:         1.5,
		UaPenaltyEnabled:       false,
		UaPenalty:              2,
		MinSessionsNumber:      5,
		MinSessionDuration:     60,
		ScoreThreshold:         4.5,
		LookbackPeriod:         20,
		Partitioned:            true,
	}
}

func TestPartitionPredicateCases(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{
			name: "same day",
			now:  time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC),
			want: "CAST(year AS INTEGER) = 2024 AND CAST(month AS INTEGER) = 3 AND CAST(day AS INTEGER) = 10 AND CAST(hour AS INTEGER) BETWEEN 11 AND 12",
		},
		{
			name: "same month",
			now:  time.Date(2024, 3, 10, 0, 5, 0, 0, time.UTC),
			want: "CAST(year AS INTEGER) = 2024 AND CAST(month AS INTEGER) = 3 AND ((CAST(day AS INTEGER) = 9 AND CAST(hour AS INTEGER) >= 23) OR (CAST(day AS INTEGER) = 10 AND CAST(hour AS INTEGER) <= 0))",
		},
		{
			name: "same year",
			now:  time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC),
			want: "CAST(year AS INTEGER) = 2024 AND ((CAST(month AS INTEGER) = 2 AND CAST(day AS INTEGER) = 29 AND CAST(hour AS INTEGER) >= 23) OR (CAST(month AS INTEGER) = 3 AND CAST(day AS INTEGER) = 1 AND CAST(hour AS INTEGER) <= 0))",
		},
		{
			name: "year boundary",
			now:  time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC),
			want: "((CAST(year AS INTEGER) = 2024 AND CAST(month AS INTEGER) = 12 AND CAST(day AS INTEGER) = 31 AND CAST(hour AS INTEGER) >= 23) OR (CAST(year AS INTEGER) = 2025 AND CAST(month AS INTEGER) = 1 AND CAST(day AS INTEGER) = 1 AND CAST(hour AS INTEGER) <= 0))",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			from := c.now.Add(-20 * time.Minute)
			assert.Equal(t, c.want, partitionPredicate(from, c.now))
		})
	}
}

func TestPartitionPredicateSameWeekdayDifferentDate(t *testing.T) {
	// a full day lookback lands on the same clock hour of the previous date
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	got := partitionPredicate(now.Add(-1440*time.Minute), now)
	assert.Contains(t, got, "CAST(day AS INTEGER) = 9 AND CAST(hour AS INTEGER) >= 12")
	assert.Contains(t, got, "CAST(day AS INTEGER) = 10 AND CAST(hour AS INTEGER) <= 12")
}

func TestBuildRiskQuery(t *testing.T) {
	conf := testRiskConfig()
	q := BuildRiskQuery(conf, time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC))

	assert.Contains(t, q, `FROM "cf_logs"."partitioned_logs"`)
	assert.Contains(t, q, "split(split_part(uri, '/', 2), '.')")
	assert.Contains(t, q, "requestip AS viewer_ip")
	assert.Contains(t, q, "CAST(status AS INTEGER) IN (200, 206)")
	assert.Contains(t, q, "CAST(bytes AS INTEGER) > 1024")
	assert.Contains(t, q, "AND CAST(hour AS INTEGER) BETWEEN 11 AND 12\n   AND CAST(status")
	assert.Contains(t, q, "time_point >= TIMESTAMP '2024-03-10 11:45:00'")
	assert.Contains(t, q, "(3 * (Q2.request_cnt")
	assert.Contains(t, q, "IF(Q2.ip_cnt > 1, 1, 0) AS ip_penalty")
	assert.Contains(t, q, "IF(Q2.referer_cnt > 1, 1.5, 0) AS referer_penalty")
	assert.Contains(t, q, "IF(Q2.ua_cnt > 1, 0, 0) AS ua_penalty")
	assert.Contains(t, q, "(SELECT COUNT(*) FROM Q2) >= 5")
	assert.Contains(t, q, "time_range >= 60")
	assert.True(t, strings.HasSuffix(q, "> 4.5"))
}

func TestBuildRiskQueryUnpartitioned(t *testing.T) {
	conf := testRiskConfig()
	conf.Partitioned = false
	q := BuildRiskQuery(conf, time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC))
	assert.NotContains(t, q, "CAST(year AS INTEGER)")
	assert.Contains(t, q, "   WHERE CAST(status AS INTEGER) IN (200, 206)")
}
