package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSummaryPipeline(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		start, end *time.Time
		wantMatch  bson.M
		wantStages int
	}{
		{
			name:       "unbounded",
			wantStages: 2,
		},
		{
			name:       "start only",
			start:      &start,
			wantMatch:  bson.M{"request_created_at": bson.M{"$gte": start}},
			wantStages: 3,
		},
		{
			name:       "end only",
			end:        &end,
			wantMatch:  bson.M{"request_created_at": bson.M{"$lte": end}},
			wantStages: 3,
		},
		{
			name:       "closed range",
			start:      &start,
			end:        &end,
			wantMatch:  bson.M{"request_created_at": bson.M{"$gte": start, "$lte": end}},
			wantStages: 3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := summaryPipeline(tc.start, tc.end)
			require.Len(t, pipeline, tc.wantStages)

			if tc.wantMatch != nil {
				require.Equal(t, tc.wantMatch, pipeline[0]["$match"])
			}

			// grouping is always by formatted date, ascending
			group := pipeline[len(pipeline)-2]["$group"].(bson.M)
			require.Contains(t, group, "_id")
			require.Equal(t, bson.M{"_id": 1}, pipeline[len(pipeline)-1]["$sort"])
		})
	}
}
