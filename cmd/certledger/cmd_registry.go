package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/felixgeelhaar/certledger/internal/config"
	"github.com/felixgeelhaar/certledger/pkg/client"
)

// cmdCourse manages courses
func cmdCourse(as string, args []string) error {
	if len(args) < 1 {
		fmt.Println(`Course commands:

  certledger course add <id>     Mark a course valid (owner)
  certledger course remove <id>  Mark a course invalid (owner)
  certledger course show <id>    Show whether a course is valid
  certledger course list         List all courses`)
		return nil
	}

	c, _, err := newClient(as)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch args[0] {
	case "list":
		courses, err := c.ListCourses(ctx)
		if err != nil {
			return fmt.Errorf("list courses: %w", err)
		}
		renderCourses(os.Stdout, courses)
		return nil
	case "add", "remove", "show":
	default:
		return fmt.Errorf("unknown course command: %s", args[0])
	}

	if len(args) < 2 {
		return fmt.Errorf("course id required")
	}
	id, err := parseID(args[1], "course")
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		if err := requireCaller(as, "course add"); err != nil {
			return err
		}
		if err := c.AddCourse(ctx, id); err != nil {
			return fmt.Errorf("add course: %w", err)
		}
		fmt.Println(color.GreenString("✓"), "Course", id, "is valid")
	case "remove":
		if err := requireCaller(as, "course remove"); err != nil {
			return err
		}
		if err := c.RemoveCourse(ctx, id); err != nil {
			return fmt.Errorf("remove course: %w", err)
		}
		fmt.Println(color.GreenString("✓"), "Course", id, "is no longer valid")
	case "show":
		course, err := c.Course(ctx, id)
		if err != nil {
			return fmt.Errorf("get course: %w", err)
		}
		fmt.Printf("Course %d: %s\n", course.CourseID, validity(course.IsValid))
	}
	return nil
}

// cmdCert manages certificates
func cmdCert(as string, args []string) error {
	if len(args) < 1 {
		fmt.Println(`Certificate commands:

  certledger cert issue --recipient <address> --course <id> [--title T] [--level L] [--uri U]
  certledger cert mint <id>        Mint a pending certificate (recipient)
  certledger cert show <id>        Show a certificate
  certledger cert list <address>   List certificates issued to an address`)
		return nil
	}

	c, _, err := newClient(as)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch args[0] {
	case "issue":
		req, err := parseIssueFlags(args[1:])
		if err != nil {
			return err
		}
		if err := requireCaller(as, "cert issue"); err != nil {
			return err
		}
		cert, err := c.IssueCertificate(ctx, req)
		if err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}
		fmt.Println(color.GreenString("✓"), "Issued certificate", cert.CertificateID)
		renderCertificate(os.Stdout, cert)
	case "mint":
		if len(args) < 2 {
			return fmt.Errorf("certificate id required")
		}
		id, err := parseID(args[1], "certificate")
		if err != nil {
			return err
		}
		if err := requireCaller(as, "cert mint"); err != nil {
			return err
		}
		cert, err := c.MintCertificate(ctx, id)
		if err != nil {
			return fmt.Errorf("mint certificate: %w", err)
		}
		fmt.Println(color.GreenString("✓"), "Minted certificate", cert.CertificateID)
		renderCertificate(os.Stdout, cert)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("certificate id required")
		}
		id, err := parseID(args[1], "certificate")
		if err != nil {
			return err
		}
		cert, err := c.Certificate(ctx, id)
		if err != nil {
			return fmt.Errorf("get certificate: %w", err)
		}
		renderCertificate(os.Stdout, cert)
	case "list":
		if len(args) < 2 {
			return fmt.Errorf("address required")
		}
		ids, err := c.UserCertificates(ctx, args[1])
		if err != nil {
			return fmt.Errorf("list certificates: %w", err)
		}
		certs := make([]*client.Certificate, 0, len(ids))
		for _, id := range ids {
			cert, err := c.Certificate(ctx, id)
			if err != nil {
				return fmt.Errorf("get certificate %d: %w", id, err)
			}
			certs = append(certs, cert)
		}
		renderCertificates(os.Stdout, certs)
	default:
		return fmt.Errorf("unknown cert command: %s", args[0])
	}
	return nil
}

// parseIssueFlags reads the cert issue flags into a request body.
func parseIssueFlags(args []string) (client.IssueRequest, error) {
	var req client.IssueRequest
	fs := flag.NewFlagSet("cert issue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&req.Recipient, "recipient", "", "recipient address")
	course := fs.String("course", "", "course id")
	fs.StringVar(&req.CourseTitle, "title", "", "course title")
	fs.StringVar(&req.Level, "level", "", "course level")
	fs.StringVar(&req.MetadataURI, "uri", "", "metadata URI")

	if err := fs.Parse(args); err != nil {
		return req, fmt.Errorf("cert issue: %w", err)
	}
	if req.Recipient == "" || *course == "" {
		return req, fmt.Errorf("cert issue requires --recipient and --course")
	}
	id, err := parseID(*course, "course")
	if err != nil {
		return req, err
	}
	req.CourseID = id
	return req, nil
}

// cmdOwner shows or transfers registry ownership
func cmdOwner(as string, args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	c, _, err := newClient(as)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch sub {
	case "show":
		owner, err := c.Owner(ctx)
		if err != nil {
			return fmt.Errorf("get owner: %w", err)
		}
		fmt.Println(owner)
	case "transfer":
		if len(args) < 2 {
			return fmt.Errorf("new owner address required")
		}
		if err := requireCaller(as, "owner transfer"); err != nil {
			return err
		}
		if err := c.TransferOwnership(ctx, args[1]); err != nil {
			return fmt.Errorf("transfer ownership: %w", err)
		}
		fmt.Println(color.GreenString("✓"), "Ownership transferred to", args[1])
	default:
		return fmt.Errorf("unknown owner command: %s", sub)
	}
	return nil
}

// cmdToken shows a minted certificate as a token, or signs a bearer token
func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("token id required")
	}
	if args[0] == "sign" {
		if len(args) < 2 {
			return fmt.Errorf("address required")
		}
		return cmdTokenSign(args[1])
	}

	id, err := parseID(args[0], "token")
	if err != nil {
		return err
	}

	c, _, err := newClient("")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	tok, err := c.Token(ctx, id)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	balance, err := c.Balance(ctx, tok.Owner)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	fmt.Printf("Token:     %d\n", tok.TokenID)
	fmt.Printf("Owner:     %s (holds %d)\n", tok.Owner, balance)
	fmt.Printf("Token URI: %s\n", tok.TokenURI)
	return nil
}

// cmdTokenSign prints a bearer token for addr, signed with the local secret.
func cmdTokenSign(addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	token, err := signToken(cfg, addr)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// Rendering

func validity(valid bool) string {
	if valid {
		return color.GreenString("valid")
	}
	return color.RedString("invalid")
}

func renderCourses(w io.Writer, courses []client.Course) {
	if len(courses) == 0 {
		fmt.Fprintln(w, "No courses yet.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Course", "Valid", "Updated"})
	for _, c := range courses {
		table.Append([]string{
			strconv.FormatUint(c.CourseID, 10),
			strconv.FormatBool(c.IsValid),
			formatTime(c.UpdatedAt),
		})
	}
	table.Render()
}

func renderCertificate(w io.Writer, cert *client.Certificate) {
	state := "pending"
	if cert.IsMinted {
		state = "minted"
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"Certificate", strconv.FormatUint(cert.CertificateID, 10)},
		{"Recipient", cert.Recipient},
		{"Course", strconv.FormatUint(cert.CourseID, 10)},
		{"Title", cert.CourseTitle},
		{"Level", cert.Level},
		{"Metadata URI", cert.MetadataURI},
		{"State", state},
		{"Issued", formatTime(cert.IssuedAt)},
	})
	if cert.MintedAt != nil {
		table.Append([]string{"Minted", formatTime(*cert.MintedAt)})
	}
	table.Render()
}

func renderCertificates(w io.Writer, certs []*client.Certificate) {
	if len(certs) == 0 {
		fmt.Fprintln(w, "No certificates issued to this address.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Course", "Title", "Level", "Minted"})
	for _, c := range certs {
		table.Append([]string{
			strconv.FormatUint(c.CertificateID, 10),
			strconv.FormatUint(c.CourseID, 10),
			c.CourseTitle,
			c.Level,
			strconv.FormatBool(c.IsMinted),
		})
	}
	table.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
