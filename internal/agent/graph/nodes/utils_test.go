package nodes

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeRouteLabel(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"exact", "vehicle_search", RouteVehicleSearch},
		{"uppercase", "FINANCING", RouteFinancing},
		{"quoted", `"company_info"`, RouteCompanyInfo},
		{"padded", "  vehicle_search.\n", RouteVehicleSearch},
		{"prose with one label", "the user wants financing", RouteFinancing},
		{"prose with two labels", "vehicle_search or financing", RouteCompanyInfo},
		{"unknown", "greeting", RouteCompanyInfo},
		{"empty", "", RouteCompanyInfo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeRouteLabel(tc.raw))
		})
	}
}

func TestRenderHistory(t *testing.T) {
	msgs := []*schema.Message{
		schema.UserMessage("busco un auto"),
		schema.AssistantMessage("claro, ¿que marca?", nil),
		schema.SystemMessage("no aparece"),
		nil,
		schema.UserMessage("  un toyota  "),
	}

	got := renderHistory(msgs)

	assert.Equal(t, "Usuario: busco un auto\nAsistente: claro, ¿que marca?\nUsuario: un toyota\n", got)
}

func TestRenderHistorySkipsEmpty(t *testing.T) {
	assert.Empty(t, renderHistory(nil))
	assert.Empty(t, renderHistory([]*schema.Message{schema.UserMessage("   ")}))
}
