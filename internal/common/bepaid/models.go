package bepaid

// checkoutEnvelope is the body of POST /ctp/api/checkouts.
type checkoutEnvelope struct {
	Checkout checkoutRequest `json:"checkout"`
}

type checkoutRequest struct {
	Version         float64         `json:"version"`
	Test            bool            `json:"test"`
	TransactionType string          `json:"transaction_type"`
	Order           order           `json:"order"`
	Customer        customer        `json:"customer"`
	Settings        checkoutSetting `json:"settings"`
	PaymentMethod   paymentMethod   `json:"payment_method"`
}

type order struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	TrackingID  string `json:"tracking_id"`
}

type customer struct {
	Email string `json:"email"`
}

type checkoutSetting struct {
	SuccessURL      string         `json:"success_url,omitempty"`
	DeclineURL      string         `json:"decline_url,omitempty"`
	FailURL         string         `json:"fail_url,omitempty"`
	NotificationURL string         `json:"notification_url,omitempty"`
	Language        string         `json:"language"`
	CustomerFields  customerFields `json:"customer_fields"`
}

type customerFields struct {
	Visible  []string `json:"visible"`
	ReadOnly []string `json:"read_only"`
}

type paymentMethod struct {
	Types      []string         `json:"types"`
	CreditCard creditCardMethod `json:"credit_card"`
}

type creditCardMethod struct {
	SaveCard bool `json:"save_card"`
}

type checkoutResponse struct {
	Checkout struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	} `json:"checkout"`
	Message string `json:"message"`
}

// chargeEnvelope is the body of POST /transactions/payments.
type chargeEnvelope struct {
	Request chargeRequest `json:"request"`
}

type chargeRequest struct {
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	TrackingID  string    `json:"tracking_id"`
	Test        bool      `json:"test"`
	CreditCard  cardToken `json:"credit_card"`
	Customer    customer  `json:"customer"`
}

type cardToken struct {
	Token string `json:"token"`
}

type chargeResponse struct {
	Transaction struct {
		UID     string `json:"uid"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"transaction"`
	Message string `json:"message"`
}
