package service

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"lineTotal": func(price decimal.Decimal, qty int) string {
		return lineAmount(price, qty).StringFixed(2)
	},
	"date": func(b domain.Bill) string { return b.CreatedAt.Format("02 Jan 2006 15:04") },
}

var invoiceTmpl = template.Must(template.New("invoice").Funcs(templateFuncs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Invoice {{.BillID}}</title></head>
<body>
<h1>Invoice {{.BillID}}</h1>
<p>Store: {{.StoreID}}<br>Date: {{date .}}<br>Payment: {{.ModeOfPayment}}</p>
<p>Customer: {{.Customer.Name}}<br>Phone: {{.Customer.Phone}}{{if .Customer.Email}}<br>Email: {{.Customer.Email}}{{end}}</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Product</th><th>Color</th><th>Size</th><th>Qty</th><th>Price</th><th>Amount</th></tr>
{{range .Products}}<tr><td>{{.ProductName}} ({{.ProductID}})</td><td>{{.Color.Name}}</td><td>{{.Size}}</td><td>{{.Quantity}}</td><td>{{money .Price}}</td><td>{{lineTotal .Price .Quantity}}</td></tr>
{{end}}</table>
<p>Total: {{money .TotalAmount}}<br>Discount: {{.DiscountPercentage}}%<br><strong>Payable: {{money .PriceAfterDiscount}}</strong></p>
</body></html>
`))

var orderTmpl = template.Must(template.New("order").Funcs(templateFuncs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Order {{.OrderID}}</title></head>
<body>
<h1>Order {{.OrderID}} confirmed</h1>
<p>Payment reference: {{.PaymentID}}</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Product</th><th>Color</th><th>Size</th><th>Qty</th><th>Price</th><th>Discount</th></tr>
{{range .Products}}<tr><td>{{.ProductName}} ({{.ProductID}})</td><td>{{.Color.Name}}</td><td>{{.Size}}</td><td>{{.QuantityOrdered}}</td><td>{{money .Price}}</td><td>{{.DiscountPercentage}}% ({{money .DiscountAmount}})</td></tr>
{{end}}</table>
<p>Total: {{money .TotalAmount}}<br>Discount: {{money .TotalDiscountAmount}}<br><strong>Paid: {{money .TotalPriceAfterDiscount}}</strong></p>
</body></html>
`))

func renderInvoice(bill domain.Bill) ([]byte, error) {
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, bill); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderOrderEmail(order domain.Order) (string, error) {
	var buf bytes.Buffer
	if err := orderTmpl.Execute(&buf, order); err != nil {
		return "", err
	}
	return buf.String(), nil
}
