package fraud

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/rules"
	"github.com/formflow/formflow/internal/velocity"
)

// DefaultWeights are the per-check weights used when an instance sets none.
var DefaultWeights = map[domain.FraudCheck]float64{
	domain.CheckDuplicateAccount:  30,
	domain.CheckIPVelocity:        25,
	domain.CheckDeviceFingerprint: 20,
	domain.CheckEmailDomain:       15,
	domain.CheckVPNProxy:          10,
	domain.CheckDataConsistency:   15,
	domain.CheckBotBehavior:       20,
}

// Battery lists the built-in checks in evaluation order.
var Battery = []domain.FraudCheck{
	domain.CheckDuplicateAccount,
	domain.CheckIPVelocity,
	domain.CheckDeviceFingerprint,
	domain.CheckEmailDomain,
	domain.CheckVPNProxy,
	domain.CheckDataConsistency,
	domain.CheckBotBehavior,
}

const (
	duplicateWindow   = 30 * 24 * time.Hour
	fingerprintWindow = 7 * 24 * time.Hour
	fingerprintReuse  = 5
	minFillSeconds    = 30
	dailyVelocityMult = 5
)

var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"throwawaymail.com": true,
	"yopmail.com":       true,
	"trashmail.com":     true,
	"sharklasers.com":   true,
	"getnada.com":       true,
	"dispostable.com":   true,
	"maildrop.cc":       true,
}

var proxyHeaders = []string{
	"via",
	"x-forwarded-for",
	"x-forwarded-host",
	"x-proxy-id",
	"forwarded",
	"proxy-connection",
	"x-real-ip",
	"client-ip",
}

var datacenterPrefixes = []string{
	"3.", "13.", "18.", "34.", "35.", "52.", "54.",
	"104.131.", "104.236.", "138.68.", "159.65.", "167.99.",
	"45.33.", "45.56.", "139.162.", "172.104.",
	"149.28.", "207.148.",
	"51.15.", "163.172.",
}

var fakeZIPs = map[string]bool{
	"00000": true,
	"12345": true,
	"99999": true,
	"11111": true,
}

var testNames = map[string]bool{
	"test":     true,
	"testing":  true,
	"asdf":     true,
	"qwerty":   true,
	"fake":     true,
	"sample":   true,
	"john doe": true,
	"jane doe": true,
	"xxx":      true,
}

var botUserAgent = regexp.MustCompile(`(?i)bot|crawl|spider|curl|wget|python|headless|phantom`)

// evidence is everything the battery reads for one submission.
type evidence struct {
	instanceID string
	cfg        *domain.FraudConfig
	sub        *domain.Submission
	ctx        domain.FraudContext
	email      string
	account    string
}

func newEvidence(inst *domain.Instance, sub *domain.Submission, fctx domain.FraudContext) *evidence {
	ev := &evidence{
		instanceID: inst.ID,
		cfg:        inst.Settings.Fraud,
		sub:        sub,
		ctx:        fctx,
		email:      sub.Email,
		account:    sub.AccountNumber,
	}
	if ev.email == "" {
		ev.email = formString(sub.FormData, "email")
	}
	if ev.account == "" {
		ev.account = formString(sub.FormData, "account_number")
	}
	if ev.ctx.IP == "" {
		ev.ctx.IP = sub.IP
	}
	if ev.ctx.UserAgent == "" {
		ev.ctx.UserAgent = sub.UserAgent
	}
	if ev.ctx.Fingerprint == "" {
		ev.ctx.Fingerprint = sub.Fingerprint
	}
	return ev
}

func formString(data domain.FieldValues, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func flagged(check domain.FraudCheck, severity float64, reason string, details map[string]any) domain.CheckResult {
	return domain.CheckResult{Check: check, Flagged: true, Severity: severity, Reason: reason, Details: details}
}

func clean(check domain.FraudCheck) domain.CheckResult {
	return domain.CheckResult{Check: check}
}

func (a *Analyzer) runCheck(ctx context.Context, check domain.FraudCheck, ev *evidence) (domain.CheckResult, error) {
	switch check {
	case domain.CheckDuplicateAccount:
		return a.checkDuplicateAccount(ctx, ev)
	case domain.CheckIPVelocity:
		return a.checkIPVelocity(ctx, ev)
	case domain.CheckDeviceFingerprint:
		return a.checkFingerprint(ctx, ev)
	case domain.CheckEmailDomain:
		return checkEmailDomain(ev), nil
	case domain.CheckVPNProxy:
		return checkVPNProxy(ev), nil
	case domain.CheckDataConsistency:
		return checkDataConsistency(ev), nil
	case domain.CheckBotBehavior:
		return checkBotBehavior(ev), nil
	}
	return clean(check), fmt.Errorf("unknown fraud check: %s", check)
}

func (a *Analyzer) checkDuplicateAccount(ctx context.Context, ev *evidence) (domain.CheckResult, error) {
	if ev.account == "" {
		return clean(domain.CheckDuplicateAccount), nil
	}
	n, err := a.velocity.Count(ctx, ev.instanceID, velocity.ByAccount, ev.account, duplicateWindow)
	if err != nil {
		return clean(domain.CheckDuplicateAccount), err
	}
	if n == 0 {
		return clean(domain.CheckDuplicateAccount), nil
	}
	return flagged(domain.CheckDuplicateAccount, math.Min(2, float64(n)),
		"account number already enrolled in the last 30 days",
		map[string]any{"count": n}), nil
}

// checkIPVelocity returns on the first branch that triggers; the daily
// branch only runs when the hourly one did not flag.
func (a *Analyzer) checkIPVelocity(ctx context.Context, ev *evidence) (domain.CheckResult, error) {
	if ev.ctx.IP == "" {
		return clean(domain.CheckIPVelocity), nil
	}
	threshold := ev.cfg.VelocityThreshold()

	hourly, err := a.velocity.Count(ctx, ev.instanceID, velocity.ByIP, ev.ctx.IP, time.Hour)
	if err != nil {
		return clean(domain.CheckIPVelocity), err
	}
	if hourly > threshold {
		severity := math.Min(2, math.Floor(float64(hourly)/float64(threshold)))
		return flagged(domain.CheckIPVelocity, severity, "too many submissions from this IP in the last hour",
			map[string]any{"count": hourly, "window": "1h", "threshold": threshold}), nil
	}

	daily, err := a.velocity.Count(ctx, ev.instanceID, velocity.ByIP, ev.ctx.IP, 24*time.Hour)
	if err != nil {
		return clean(domain.CheckIPVelocity), err
	}
	if daily > threshold*dailyVelocityMult {
		return flagged(domain.CheckIPVelocity, 1.5, "too many submissions from this IP in the last 24 hours",
			map[string]any{"count": daily, "window": "24h", "threshold": threshold * dailyVelocityMult}), nil
	}
	return clean(domain.CheckIPVelocity), nil
}

func (a *Analyzer) checkFingerprint(ctx context.Context, ev *evidence) (domain.CheckResult, error) {
	fp := ev.ctx.Fingerprint
	if fp == "" {
		return clean(domain.CheckDeviceFingerprint), nil
	}
	blocked, err := a.store.IsFingerprintBlocked(ctx, ev.instanceID, fp)
	if err != nil {
		return clean(domain.CheckDeviceFingerprint), err
	}
	if blocked {
		return flagged(domain.CheckDeviceFingerprint, 2, "device fingerprint is blocked", nil), nil
	}
	n, err := a.velocity.Count(ctx, ev.instanceID, velocity.ByFingerprint, fp, fingerprintWindow)
	if err != nil {
		return clean(domain.CheckDeviceFingerprint), err
	}
	if n >= fingerprintReuse {
		return flagged(domain.CheckDeviceFingerprint, 1, "device used for many submissions in the last 7 days",
			map[string]any{"count": n}), nil
	}
	return clean(domain.CheckDeviceFingerprint), nil
}

func checkEmailDomain(ev *evidence) domain.CheckResult {
	d := rules.EmailDomain(ev.email)
	if d == "" {
		return clean(domain.CheckEmailDomain)
	}
	if ev.cfg != nil && lo.ContainsBy(ev.cfg.BlockedDomains, func(b string) bool { return strings.EqualFold(b, d) }) {
		return flagged(domain.CheckEmailDomain, 2, "email domain is blocked", map[string]any{"domain": d})
	}
	if disposableDomains[d] {
		return flagged(domain.CheckEmailDomain, 1.5, "disposable email domain", map[string]any{"domain": d})
	}
	return clean(domain.CheckEmailDomain)
}

func checkVPNProxy(ev *evidence) domain.CheckResult {
	present := lo.Filter(proxyHeaders, func(h string, _ int) bool {
		for k, v := range ev.ctx.Headers {
			if strings.EqualFold(k, h) && v != "" {
				return true
			}
		}
		return false
	})
	if len(present) >= 2 {
		return flagged(domain.CheckVPNProxy, 0.8, "proxy headers present", map[string]any{"headers": present})
	}
	if ip := ev.ctx.IP; ip != "" {
		if prefix, ok := lo.Find(datacenterPrefixes, func(p string) bool { return strings.HasPrefix(ip, p) }); ok {
			return flagged(domain.CheckVPNProxy, 1, "IP belongs to a datacenter range", map[string]any{"prefix": prefix})
		}
	}
	return clean(domain.CheckVPNProxy)
}

func checkDataConsistency(ev *evidence) domain.CheckResult {
	data := ev.sub.FormData
	var issues []string

	for _, name := range []string{
		formString(data, "name", "full_name"),
		formString(data, "first_name"),
		formString(data, "last_name"),
		strings.TrimSpace(formString(data, "first_name") + " " + formString(data, "last_name")),
	} {
		if isTestName(name) {
			issues = append(issues, "test-like name")
			break
		}
	}
	if phone := formString(data, "phone", "phone_number", "mobile"); phone != "" && isFakePhone(phone) {
		issues = append(issues, "fake phone number")
	}
	if zip := formString(data, "zip", "zip_code", "postal_code"); fakeZIPs[zip] {
		issues = append(issues, "fake ZIP code")
	}

	if len(issues) == 0 {
		return clean(domain.CheckDataConsistency)
	}
	return flagged(domain.CheckDataConsistency, 0.5*float64(len(issues)), strings.Join(issues, "; "),
		map[string]any{"issues": issues})
}

func isTestName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	return testNames[n] || strings.HasPrefix(n, "test ") || strings.HasSuffix(n, " test")
}

// isFakePhone detects repeated or strictly sequential digit runs.
func isFakePhone(phone string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) > 10 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 7 {
		return false
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return true
	}
	return strings.Contains("01234567890", digits) || strings.Contains("09876543210", digits)
}

func checkBotBehavior(ev *evidence) domain.CheckResult {
	var issues []string
	if ev.ctx.ElapsedSeconds != nil && *ev.ctx.ElapsedSeconds < minFillSeconds {
		issues = append(issues, "form filled too quickly")
	}
	if ev.ctx.Honeypot != "" {
		issues = append(issues, "honeypot field filled")
	}
	if ev.ctx.MouseMoved != nil && !*ev.ctx.MouseMoved {
		issues = append(issues, "no mouse movement")
	}
	ua := strings.TrimSpace(ev.ctx.UserAgent)
	if ua == "" || botUserAgent.MatchString(ua) {
		issues = append(issues, "missing or automated user agent")
	}

	if len(issues) == 0 {
		return clean(domain.CheckBotBehavior)
	}
	return flagged(domain.CheckBotBehavior, 0.7*float64(len(issues)), strings.Join(issues, "; "),
		map[string]any{"issues": issues})
}
