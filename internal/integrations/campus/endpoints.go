package campus

// Endpoints collects every platform URL the client touches. The three bases
// map to the identity provider, the campus open platform and the venue
// booking sub-application, which run as separate deployments.
type Endpoints struct {
	PublicKeyURL  string
	MFADetectURL  string
	PhoneInitURL  string
	PhoneSendURL  string
	PhoneValidURL string
	LoginURL      string
	AuthorizeURL  string

	VenueListURL  string
	SlotListURL   string
	LockedListURL string
	CaptchaURL    string
	BookURL       string

	RedirectURI  string
	ImageBaseURL string

	// PayMarker is the fixed platform marker embedded in the signed payment
	// token around the captcha id.
	PayMarker string

	// AppID identifies the mobile client the login protocol impersonates;
	// OAuthAppID is the booking sub-application's id in the authorize hop.
	AppID      string
	OAuthAppID string

	MercCode string
}

// EndpointsFor derives the full endpoint set from the three deployment bases
// plus the payment marker origin.
func EndpointsFor(loginBase, orgBase, bookingBase, payMarker string) Endpoints {
	return Endpoints{
		PublicKeyURL:  loginBase + "/token/jwt/publicKey",
		MFADetectURL:  loginBase + "/token/mfa/detect",
		PhoneInitURL:  loginBase + "/token/mfa/initByType/securephone",
		PhoneSendURL:  loginBase + "/attest/api/guard/securephone/send",
		PhoneValidURL: loginBase + "/attest/api/guard/securephone/valid",
		LoginURL:      loginBase + "/token/password/passwordLogin",
		AuthorizeURL:  orgBase + "/openplatform/oauth/authorize",

		VenueListURL:  bookingBase + "/web/product/productData.html",
		SlotListURL:   bookingBase + "/web/product/findOkArea.html",
		LockedListURL: bookingBase + "/web/product/findLockArea.html",
		CaptchaURL:    bookingBase + "/gen",
		BookURL:       bookingBase + "/web/order/tobook.html",

		RedirectURI:  bookingBase + "/web/cas/oauth2url.html",
		ImageBaseURL: bookingBase + "/web/upload/image/",

		PayMarker:  payMarker,
		AppID:      "com.supwisdom.xjtu",
		OAuthAppID: "1659",
		MercCode:   "100001",
	}
}

// DefaultEndpoints targets the production deployment.
func DefaultEndpoints() Endpoints {
	return EndpointsFor(
		"https://login.xjtu.edu.cn",
		"http://org.xjtu.edu.cn",
		"http://202.117.17.144:8080",
		"http://202.117.17.144:8071",
	)
}
