package customer

import "strings"

// Customer identifies the buyer of an order.
type Customer struct {
	ID        string   `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Address   *Address `json:"address,omitempty"`
}

// Address is a postal address. Shipping always mirrors it.
type Address struct {
	Street   string `json:"street"`
	Landmark string `json:"landmark,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Country  string `json:"country,omitempty"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Line returns the street and landmark as a single address line.
func (a Address) Line() string {
	if a.Landmark == "" {
		return a.Street
	}
	return a.Street + ", " + a.Landmark
}
