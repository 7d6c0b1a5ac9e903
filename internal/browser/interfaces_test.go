package browser_test

import (
	"github.com/xkilldash9x/scalpel-pilot/internal/agent"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser"
	"github.com/xkilldash9x/scalpel-pilot/internal/launcher"
	"github.com/xkilldash9x/scalpel-pilot/internal/router"
)

var (
	_ agent.InputDriver    = (*browser.Browser)(nil)
	_ agent.ScreenCapturer = (*browser.Browser)(nil)
	_ router.Page          = (*browser.Browser)(nil)
	_ router.KeyPresser    = (*browser.Browser)(nil)
	_ launcher.URLOpener   = (*browser.Browser)(nil)
)
