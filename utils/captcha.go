package utils

import (
	"sync"

	"github.com/mojocn/base64Captcha"
)

var (
	captchaStore     base64Captcha.Store
	captchaStoreOnce sync.Once
)

// getCaptchaStore prefers the shared redis store so captcha verification works
// behind a load balancer, falling back to the in-memory store.
func getCaptchaStore() base64Captcha.Store {
	captchaStoreOnce.Do(func() {
		if RedisAvailable() {
			captchaStore = NewRedisCaptchaStore(0)
		} else {
			captchaStore = base64Captcha.DefaultMemStore
		}
	})
	return captchaStore
}

// GenerateCaptcha creates a captcha and returns (id, dataURI) for the signup form.
func GenerateCaptcha() (string, string, error) {
	driver := base64Captcha.NewDriverDigit(40, 120, 5, 0.7, 80)
	c := base64Captcha.NewCaptcha(driver, getCaptchaStore())
	id, b64, _, err := c.Generate()
	return id, b64, err
}

// VerifyCaptcha verifies the provided answer; it consumes the captcha on success.
func VerifyCaptcha(id, answer string) bool {
	if id == "" || answer == "" {
		return false
	}
	return getCaptchaStore().Verify(id, answer, true)
}
