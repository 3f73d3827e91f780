package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetport/internal/store"
)

func TestPreview(t *testing.T) {
	st := seededStore(t)
	im := newTestImporter(st, ImporterConfig{})

	res, err := im.Preview(context.Background(), NewSchemaService(warehouseSchema()), "w.csv", csvFile(
		"Warehouse Name,Zone ID,Capacity",
		"Annex,z1,10",  // valid
		"Main,z1,5",    // matches w1
		"Depot,z404,1", // missing zone
		"Annex,z1,12",  // repeats line 2
		"Yard,z1,many", // bad number
	))
	require.NoError(t, err)

	assert.Equal(t, "warehouses", res.Entity)
	assert.Equal(t, []string{"Warehouse Name", "Zone ID", "Capacity", "State", "Cold Storage"}, res.Headers)
	assert.Equal(t, 5, res.TotalRows)
	assert.Equal(t, 3, res.ValidRows)
	assert.Equal(t, 2, res.InvalidRows)
	assert.Equal(t, 1, res.DuplicateRows)
	assert.Equal(t, 1, res.DuplicateInFile)

	require.Len(t, res.Rows, 5)
	statuses := make([]PreviewStatus, len(res.Rows))
	for i, r := range res.Rows {
		statuses[i] = r.Status
	}
	assert.Equal(t, []PreviewStatus{PreviewValid, PreviewDuplicate, PreviewInvalid, PreviewDuplicateInFile, PreviewInvalid}, statuses)

	assert.Equal(t, "w1", res.Rows[1].ExistingID)
	assert.Equal(t, KindForeignKey, res.Rows[2].Errors[0].Type)
	assert.Equal(t, 2, res.Rows[3].FirstLineOf)
	assert.Equal(t, "Capacity", res.Rows[4].Errors[0].Column)
	assert.Equal(t, "Capacity must be a number", res.Rows[4].Errors[0].Message)
	assert.Equal(t, []DuplicatePreview{{RowKey: "Annex", LineNumbers: []int{2, 5}}}, res.DuplicateSamples)

	// Nothing was written.
	n, err := st.Count(context.Background(), "warehouses", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPreview_StructuralError(t *testing.T) {
	im := newTestImporter(seededStore(t), ImporterConfig{})
	_, err := im.Preview(context.Background(), NewSchemaService(warehouseSchema()), "w.csv", csvFile("Warehouse Name"))
	require.Error(t, err)
	assert.True(t, IsStructural(err))
}
