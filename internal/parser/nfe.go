package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// infNFe mirrors the subset of the NF-e layout the pipeline consumes.
// The element may sit under nfeProc/NFe, directly under NFe or at the
// root, so decoding scans for it by local name.
type infNFe struct {
	Emit struct {
		CNPJ  string `xml:"CNPJ"`
		XNome string `xml:"xNome"`
		IE    string `xml:"IE"`
		Ender struct {
			XMun string `xml:"xMun"`
			UF   string `xml:"UF"`
		} `xml:"enderEmit"`
	} `xml:"emit"`
	Dest struct {
		CNPJ  string `xml:"CNPJ"`
		CPF   string `xml:"CPF"`
		XNome string `xml:"xNome"`
		Ender struct {
			XMun string `xml:"xMun"`
			UF   string `xml:"UF"`
		} `xml:"enderDest"`
	} `xml:"dest"`
	Det []struct {
		Prod struct {
			CProd string `xml:"cProd"`
			XProd string `xml:"xProd"`
			NCM   string `xml:"NCM"`
			CFOP  string `xml:"CFOP"`
			QCom  string `xml:"qCom"`
			VProd string `xml:"vProd"`
		} `xml:"prod"`
	} `xml:"det"`
	Total struct {
		ICMSTot struct {
			VICMS   string `xml:"vICMS"`
			VPIS    string `xml:"vPIS"`
			VCOFINS string `xml:"vCOFINS"`
		} `xml:"ICMSTot"`
	} `xml:"total"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseNFe decodes an NF-e XML payload into a structured document.
func parseNFe(name string, content []byte) (*model.Document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "parser: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var inf *infNFe
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "parser: read %s", name)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "infNFe" {
			continue
		}
		var decoded infNFe
		if err := decoder.DecodeElement(&decoded, &se); err != nil {
			return nil, eris.Wrapf(err, "parser: decode %s", name)
		}
		inf = &decoded
		break
	}
	if inf == nil {
		return nil, eris.Errorf("parser: %s has no infNFe element", name)
	}

	data := model.DocumentData{
		Emitente: &model.Party{
			Nome:      inf.Emit.XNome,
			CNPJ:      inf.Emit.CNPJ,
			IE:        inf.Emit.IE,
			Municipio: inf.Emit.Ender.XMun,
			UF:        inf.Emit.Ender.UF,
		},
		Impostos: model.Taxes{
			ICMS:   parseFloat(inf.Total.ICMSTot.VICMS),
			PIS:    parseFloat(inf.Total.ICMSTot.VPIS),
			COFINS: parseFloat(inf.Total.ICMSTot.VCOFINS),
		},
	}
	destCNPJ := inf.Dest.CNPJ
	if destCNPJ == "" {
		destCNPJ = inf.Dest.CPF
	}
	if destCNPJ != "" || inf.Dest.XNome != "" {
		data.Destinatario = &model.Party{
			Nome:      inf.Dest.XNome,
			CNPJ:      destCNPJ,
			Municipio: inf.Dest.Ender.XMun,
			UF:        inf.Dest.Ender.UF,
		}
	}
	for _, det := range inf.Det {
		data.Itens = append(data.Itens, model.Item{
			Codigo:     det.Prod.CProd,
			Descricao:  det.Prod.XProd,
			NCM:        det.Prod.NCM,
			CFOP:       det.Prod.CFOP,
			Quantidade: parseFloat(det.Prod.QCom),
			Valor:      parseFloat(det.Prod.VProd),
		})
	}

	return &model.Document{Kind: model.KindNFeXML, Name: name, Data: data}, nil
}
