// Command mockpay drives the payment endpoints locally: it signs checkout
// callbacks the way the gateway does and mints development tokens.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursemart/backend/internal/auth"
	"github.com/coursemart/backend/internal/payments"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mockpay",
		Short: "Local tooling for the course payments API",
	}
	rootCmd.AddCommand(signCmd(), verifyCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func secretFlag(cmd *cobra.Command) {
	cmd.Flags().String("secret", os.Getenv("RAZORPAY_KEY_SECRET"), "Gateway key secret (default $RAZORPAY_KEY_SECRET)")
}

func requireSecret(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		return "", fmt.Errorf("secret not provided and RAZORPAY_KEY_SECRET not set")
	}
	return secret, nil
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [order_id] [payment_id]",
		Short: "Print the checkout signature for an order and payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := requireSecret(cmd)
			if err != nil {
				return err
			}
			fmt.Println(payments.Sign(secret, args[0], args[1]))
			return nil
		},
	}
	secretFlag(cmd)
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "POST a signed verification callback",
		RunE:  runVerify,
	}
	secretFlag(cmd)
	cmd.Flags().String("url", "http://localhost:8080/api/payment/verify", "Verify endpoint")
	cmd.Flags().String("order", "", "Gateway order id")
	cmd.Flags().String("payment", "", "Gateway payment id")
	cmd.Flags().String("user", "", "User id")
	cmd.Flags().String("course", "", "Course id")
	cmd.Flags().Bool("tamper", false, "Send a corrupted signature")
	cmd.Flags().Bool("dry-run", false, "Only print the body, don't send")
	for _, f := range []string{"order", "payment", "user", "course"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	secret, err := requireSecret(cmd)
	if err != nil {
		return err
	}
	url, _ := cmd.Flags().GetString("url")
	orderID, _ := cmd.Flags().GetString("order")
	paymentID, _ := cmd.Flags().GetString("payment")
	userID, _ := cmd.Flags().GetString("user")
	courseID, _ := cmd.Flags().GetString("course")
	tamper, _ := cmd.Flags().GetBool("tamper")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	sig := payments.Sign(secret, orderID, paymentID)
	if tamper {
		sig = "0" + sig[1:]
		if sig == payments.Sign(secret, orderID, paymentID) {
			sig = "1" + sig[1:]
		}
	}
	body, err := json.Marshal(payments.VerifyPaymentRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: sig,
		UserID:    userID,
		CourseID:  courseID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Body: %s\n", body)
	if dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return nil
	}

	fmt.Printf("\nSending to %s...\n", url)
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", respBody)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verification rejected")
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user_id]",
		Short: "Mint a development JWT for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("jwt-secret")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			hours, _ := cmd.Flags().GetInt("hours")
			token, err := auth.NewJWTService(secret, hours).Generate(args[0], email, role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "change-me-in-production"
	}
	cmd.Flags().String("jwt-secret", jwtSecret, "JWT signing secret (default $JWT_SECRET)")
	cmd.Flags().String("email", "", "Email claim")
	cmd.Flags().String("role", "student", "Role claim (student, admin)")
	cmd.Flags().Int("hours", 1, "Token lifetime in hours")
	return cmd
}
