package page

import (
	"encoding/json"
	"encoding/xml"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMeta(t *testing.T) {
	u, err := url.Parse("http://test/")
	require.NoError(t, err)
	meta := NewMetaData(u)
	const want = "http://test/.well-known/webfinger?resource={uri}"

	rendered, err := WellKnownHostMeta.Render(meta)
	require.NoError(t, err)
	var xrd struct {
		Link struct {
			Rel      string `xml:"rel,attr"`
			Template string `xml:"template,attr"`
		}
	}
	require.NoError(t, xml.Unmarshal(rendered, &xrd))
	assert.Equal(t, "lrdd", xrd.Link.Rel)
	assert.Equal(t, want, xrd.Link.Template)

	rendered, err = WellKnownHostMetaJSON.Render(meta)
	require.NoError(t, err)
	var jrd struct {
		Links []struct {
			Rel      string `json:"rel"`
			Template string `json:"template"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rendered, &jrd))
	require.Len(t, jrd.Links, 1)
	assert.Equal(t, "lrdd", jrd.Links[0].Rel)
	assert.Equal(t, want, jrd.Links[0].Template)
}
