package conversation

import (
	"fmt"
	"strings"

	"github.com/okoalabs/pesabot/integration/bitsacco"
	"github.com/okoalabs/pesabot/pkg/money"
)

const (
	replyWelcome = "🏦 *Welcome to Bitsacco SACCO!*\n\n" +
		"Save money in Bitcoin through M-Pesa 💰₿\n\n" +
		"To get started, please share your phone number (e.g., +254700123456)\n\n" +
		"_Your phone number must be registered with Bitsacco.com_"

	replyInvalidPhone = "❌ Please enter a valid phone number with country code (e.g., +254700123456)"

	replyOTPSendFailed = "❌ Failed to send OTP. Please try again."

	replyInvalidOTPFormat = "❌ Please enter a valid 6-digit OTP"

	replyOTPExpired = "❌ Verification code expired. Send any message to start again."

	replyInvalidOTP = "❌ Invalid OTP. Please try again."

	replyGoodbye = "👋 *Logged Out Successfully*\n\n" +
		"Your session has been cleared for security.\n\n" +
		"Send any message to start again.\n\n" +
		"Thank you for using Bitsacco!"

	replyHelp = "🏦 *Bitsacco Commands*\n\n" +
		"• *balance* - Check your Bitcoin savings\n" +
		"• *save [amount]* - Save KES in Bitcoin (e.g., \"save 1000\")\n" +
		"• *history* - View recent transactions\n" +
		"• *price* - Current Bitcoin price\n" +
		"• *help* - Show this help\n" +
		"• *logout* - End your session\n\n" +
		"You can also ask me questions in natural language!\n\n" +
		"Example: \"How much Bitcoin do I have?\" or \"I want to save 500 shillings\""

	replyApology = "❌ Sorry, something went wrong. Please try again or type 'help' for assistance."

	replyUpstreamDown = "❌ The service is temporarily unavailable. Please try again in a few minutes."

	replyUpstreamAuth = "❌ Your session could not be verified. Send any message to start over."

	replyInvalidAmount = "❌ Please enter a valid amount (e.g., 'save 1000')"

	replyNoTransactions = "📊 No recent transactions found."

	replyBalanceFailed = "❌ Unable to fetch balance. Please try again."

	replyPriceFailed = "❌ Error fetching Bitcoin price. Please try again later."
)

func replyUnknownUser(phone string) string {
	return fmt.Sprintf("❌ No Bitsacco account found for %s.\n\nPlease register at https://bitsacco.com first.", phone)
}

func replyOTPSent(phone string) string {
	return fmt.Sprintf("📱 OTP sent to %s\n\nPlease enter the 6-digit code:", phone)
}

func replyAuthenticated(firstName string) string {
	if firstName == "" {
		firstName = "friend"
	}
	return fmt.Sprintf("✅ *Authentication successful!*\n\n"+
		"Welcome to Bitsacco, %s!\n\n"+
		"You can now:\n"+
		"• *balance* - Check your Bitcoin savings\n"+
		"• *save 1000* - Save 1000 KES in Bitcoin\n"+
		"• *history* - View transaction history\n"+
		"• *price* - Current Bitcoin price\n"+
		"• *help* - See all commands\n\n"+
		"What would you like to do?", firstName)
}

func replyAmountBelowMin(min float64) string {
	return fmt.Sprintf("❌ Minimum savings amount is %s", money.FormatKES(min))
}

func replyAmountAboveMax(max float64) string {
	return fmt.Sprintf("❌ Maximum single savings amount is %s", money.FormatKES(max))
}

func replyBalance(balance bitsacco.Balance, priceKES float64) string {
	var b strings.Builder
	b.WriteString("💰 *Your Bitsacco Balance*\n\n")
	fmt.Fprintf(&b, "₿ Bitcoin: %s\n", money.FormatBTC(balance.BTC))
	if priceKES > 0 {
		fmt.Fprintf(&b, "💵 KES Value: %s\n", money.FormatKES(balance.BTC*priceKES))
	}
	fmt.Fprintf(&b, "💴 KES Cash: %s", money.FormatKES(balance.KES))
	if priceKES > 0 {
		fmt.Fprintf(&b, "\n\n📈 Current BTC Price: %s", money.FormatKES(priceKES))
	}
	return b.String()
}

func replySavingsInitiated(intent bitsacco.SavingsIntent, amountKES float64, phone string) string {
	return fmt.Sprintf("✅ *Bitcoin Savings Initiated*\n\n"+
		"💰 Amount: %s\n"+
		"📱 M-Pesa prompt sent to %s\n"+
		"🆔 Transaction ID: %s\n\n"+
		"Please complete the M-Pesa payment to confirm your Bitcoin savings.",
		money.FormatKES(amountKES), phone, intent.TransactionID)
}

func replyHistory(transactions []bitsacco.Transaction) string {
	var b strings.Builder
	b.WriteString("📊 *Recent Transactions*\n")
	for _, tx := range transactions {
		emoji := "💸"
		if tx.Type == "deposit" || tx.Type == "savings" {
			emoji = "💰"
		}
		date := tx.Date
		if len(date) > 10 {
			date = date[:10]
		}
		fmt.Fprintf(&b, "\n%s %s\n", emoji, titleWord(tx.Type))
		fmt.Fprintf(&b, "   Amount: %g %s\n", tx.Amount, tx.Currency)
		fmt.Fprintf(&b, "   Date: %s\n", date)
		fmt.Fprintf(&b, "   Status: %s\n", tx.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func replyPrice(priceKES float64) string {
	return fmt.Sprintf("📈 *Current Bitcoin Price*\n\n%s per BTC", money.FormatKES(priceKES))
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
