package renderer

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockHeavyResources intercepts page requests and fails images, fonts,
// and media before they download. Result classification only reads DOM
// attributes and text, so pixels are wasted bandwidth and a second or two
// of page-load latency per page.
func blockHeavyResources(page *rod.Page) error {
	router := page.HijackRequests()

	err := router.Add("*", "", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeImage,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		return err
	}

	go router.Run()
	return nil
}
