package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mediashield/go-secure-media-server/global"
)

const athenaTimestampLayout = "2006-01-02 15:04:05"

// BuildRiskQuery renders the Athena scoring query for a run at now (UTC). Column and table names
// must already be validated identifiers.
func BuildRiskQuery(conf global.RiskConfig, now time.Time) string {
	now = now.UTC()
	from := now.Add(-time.Duration(conf.LookbackPeriod) * time.Minute)

	var sb strings.Builder
	fmt.Fprintf(&sb, `WITH Q1 AS (
   SELECT
      split(split_part(%[1]s, '/', 2), '.') AS path_first_part_array,
      %[1]s AS uri,
      %[2]s AS referer,
      %[3]s AS user_agent,
      %[4]s AS viewer_ip,
      CAST((CAST(%[5]s AS VARCHAR) || ' ' || %[6]s) AS TIMESTAMP) AS time_point
   FROM "%[7]s"."%[8]s"
`, conf.UriColumnName, conf.RefererColumnName, conf.UaColumnName, conf.RequestIpColumn,
		conf.DateColumnName, conf.TimeColumnName, conf.DbName, conf.TableName)

	if conf.Partitioned {
		sb.WriteString("   WHERE ")
		sb.WriteString(partitionPredicate(from, now))
		sb.WriteString("\n   AND ")
	} else {
		sb.WriteString("   WHERE ")
	}

	penalty := func(enabled bool, v float64) string {
		if !enabled {
			return "0"
		}
		return formatNumber(v)
	}

	fmt.Fprintf(&sb, `CAST(%[1]s AS INTEGER) IN (200, 206)
      AND CAST(%[2]s AS INTEGER) > 1024
),
Q2 AS (
   SELECT
      path_first_part_array[1] AS session_id,
      COUNT(DISTINCT (viewer_ip, uri)) AS request_cnt,
      date_diff('second', MIN(time_point), MAX(time_point)) AS time_range,
      MAX(time_point) AS max_time_point,
      COUNT(DISTINCT referer) AS referer_cnt,
      COUNT(DISTINCT viewer_ip) AS ip_cnt,
      COUNT(DISTINCT user_agent) AS ua_cnt
   FROM Q1
   WHERE time_point >= TIMESTAMP '%[3]s'
      AND cardinality(path_first_part_array) = 4
   GROUP BY 1
),
Q3 AS (
   SELECT
      session_id,
      (%[4]s * (Q2.request_cnt * 1.0 / NULLIF(Q2.time_range, 0)) / (SELECT approx_percentile((request_cnt * 1.0 / NULLIF(time_range, 0)), 0.50) FROM Q2)) AS ip_rate,
      IF(Q2.ip_cnt > 1, %[5]s, 0) AS ip_penalty,
      IF(Q2.referer_cnt > 1, %[6]s, 0) AS referer_penalty,
      IF(Q2.ua_cnt > 1, %[7]s, 0) AS ua_penalty,
      max_time_point
   FROM Q2
   WHERE (SELECT COUNT(*) FROM Q2) >= %[8]d
      AND time_range >= %[9]d
)
SELECT
   session_id,
   (ip_rate + ip_penalty + referer_penalty + ua_penalty) AS score,
   ip_rate,
   ip_penalty,
   referer_penalty,
   ua_penalty,
   TO_UNIXTIME(max_time_point) AS time_point
FROM Q3
WHERE (ip_rate + ip_penalty + referer_penalty + ua_penalty) > %[10]s`,
		conf.StatusColumnName, conf.ResponseBytesColumName,
		from.Format(athenaTimestampLayout),
		formatNumber(conf.IpRate),
		penalty(conf.IpPenaltyEnabled, conf.IpPenalty),
		penalty(conf.RefererPenaltyEnabled, conf.RefererPenalty),
		penalty(conf.UaPenaltyEnabled, conf.UaPenalty),
		conf.MinSessionsNumber, conf.MinSessionDuration,
		formatNumber(conf.ScoreThreshold))
	return sb.String()
}

// partitionPredicate selects the (year, month, day, hour) partitions between from and to.
// The window spans at most two calendar days.
func partitionPredicate(from, to time.Time) string {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	fh, th := from.Hour(), to.Hour()

	switch {
	case fy == ty && fm == tm && fd == td:
		return fmt.Sprintf("CAST(year AS INTEGER) = %d AND CAST(month AS INTEGER) = %d AND CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) BETWEEN %d AND %d",
			fy, fm, fd, fh, th)
	case fy == ty && fm == tm:
		return fmt.Sprintf("CAST(year AS INTEGER) = %d AND CAST(month AS INTEGER) = %d AND ((CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) >= %d) OR (CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) <= %d))",
			fy, fm, fd, fh, td, th)
	case fy == ty:
		return fmt.Sprintf("CAST(year AS INTEGER) = %d AND ((CAST(month AS INTEGER) = %d AND CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) >= %d) OR (CAST(month AS INTEGER) = %d AND CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) <= %d))",
			fy, fm, fd, fh, tm, td, th)
	}
	return fmt.Sprintf("((CAST(year AS INTEGER) = %d AND CAST(month AS INTEGER) = %d AND CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) >= %d) OR (CAST(year AS INTEGER) = %d AND CAST(month AS INTEGER) = %d AND CAST(day AS INTEGER) = %d AND CAST(hour AS INTEGER) <= %d))",
		fy, fm, fd, fh, ty, tm, td, th)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
