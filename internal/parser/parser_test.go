package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const resultsPage = `<html><body>
<div class="tab__inner-content">
<table>
<tbody>
<tr>
  <td><p>7194-25-00-4/215</p><p>15.01.2025</p></td>
  <td><p>Иванов И.И.; ТОО Ромашка</p><p>ГУ Налоговое управление</p></td>
  <td>Петров П.П.</td>
  <td><p>15.01.2025 - Дело принято к производству</p><p>20.01.2025 - Назначено заседание</p></td>
</tr>
<tr>
  <td><p>7194-25-00-4/215(2)</p><p>16.01.2025</p></td>
  <td><p>Сидоров С.С.</p><p>АО КазПочта</p></td>
  <td>Петров П.П.</td>
  <td><p>нет даты в этой строке</p></td>
</tr>
</tbody>
</table>
</div>
</body></html>`

func TestParseExtractsRows(t *testing.T) {
	p := New(zap.NewNop())

	records, err := p.Parse(resultsPage)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "7194-25-00-4/215", first.CaseNumber)
	require.Equal(t, 0, first.ResultIndex)
	require.NotNil(t, first.CaseDate)
	require.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), *first.CaseDate)
	require.Equal(t, []string{"Иванов И.И.", "ТОО Ромашка"}, first.Plaintiffs)
	require.Equal(t, []string{"ГУ Налоговое управление"}, first.Defendants)
	require.Equal(t, "Петров П.П.", first.Judge)
	require.Len(t, first.Events, 2)
	require.Equal(t, "Дело принято к производству", first.Events[0].Type)
	require.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), first.Events[0].Date)

	second := records[1]
	require.Equal(t, "7194-25-00-4/215(2)", second.CaseNumber)
	require.Equal(t, 1, second.ResultIndex)
	require.Empty(t, second.Events, "undated history lines are skipped")
}

func TestParseNoResultsBanners(t *testing.T) {
	p := New(zap.NewNop())

	for _, banner := range noResultsMessages {
		html := `<html><body><div class="tab__inner-content"><p>` + banner + `</p></div></body></html>`
		records, err := p.Parse(html)
		require.NoError(t, err)
		require.Empty(t, records)
	}
}

func TestParseMissingContentPaneIsEmpty(t *testing.T) {
	p := New(zap.NewNop())

	records, err := p.Parse("<html><body><p>stub page</p></body></html>")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestParseSkipsMalformedRows(t *testing.T) {
	p := New(zap.NewNop())

	html := `<html><body><div class="tab__inner-content"><table><tbody>
	<tr><td><p>7194-25-00-4/1</p></td><td></td><td>Судья</td><td></td></tr>
	<tr><td><p></p></td><td></td><td></td><td></td></tr>
	<tr><td>too few cells</td></tr>
	</tbody></table></div></body></html>`

	records, err := p.Parse(html)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "7194-25-00-4/1", records[0].CaseNumber)
	require.Nil(t, records[0].CaseDate)
}
