package page

// Host-meta points clients that predate WebFinger at the webfinger endpoint,
// as XRD and as its JSON rendition.

var WellKnownHostMeta = StaticPage{
	Path:        "/.well-known/host-meta",
	ContentType: "application/xrd+xml",
	Template: `
<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
	<Link rel="lrdd" type="application/jrd+json" template="{{ .WebFingerTemplate }}"/>
</XRD>`,
}

var WellKnownHostMetaJSON = StaticPage{
	Path:        "/.well-known/host-meta.json",
	ContentType: "application/jrd+json",
	Template: `
{
	"links": [
		{"rel": "lrdd", "type": "application/jrd+json", "template": "{{ .WebFingerTemplate }}"}
	]
}`,
}
