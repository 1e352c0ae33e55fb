// Package money parses and formats monetary amounts exchanged in chat.
//
// Users type amounts the way they say them: "save 1,000", "save KES 500",
// "ksh 2500.50". Parse extracts the decimal value from any of these.
// FormatKES renders amounts back with thousands grouping for replies.
package money
